package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/orizon-lang/fullgc/internal/invariant"
)

// Version information for all CLI tools
const (
	Version   = "0.3.0"
	BuildDate = "2026-10-16"
	CommitSHA = "unknown" // Will be set during build
)

// Exit codes shared by the tools.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitUsage     = 2
	ExitInvariant = 70 // A heap invariant was violated during a pause
)

// VersionInfo contains version and build information
type VersionInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	CommitSHA string `json:"commit_sha"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
	BuildTags string `json:"build_tags,omitempty"`
}

// GetVersionInfo returns structured version information
func GetVersionInfo() *VersionInfo {
	return &VersionInfo{
		Version:   Version,
		BuildDate: BuildDate,
		CommitSHA: CommitSHA,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
		BuildTags: buildTags,
	}
}

// WriteVersion writes version information for toolName to w.
func WriteVersion(w io.Writer, toolName string, jsonOutput bool) error {
	info := GetVersionInfo()

	if jsonOutput {
		data, err := json.MarshalIndent(map[string]interface{}{
			"tool":         toolName,
			"version_info": info,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal version info to JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "%s v%s\n", toolName, info.Version)
	fmt.Fprintf(w, "Build Date: %s\n", info.BuildDate)
	if info.CommitSHA != "unknown" && info.CommitSHA != "" {
		fmt.Fprintf(w, "Commit: %s\n", info.CommitSHA)
	}
	fmt.Fprintf(w, "Go Version: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s/%s\n", info.Platform, info.Arch)
	if info.BuildTags != "" {
		fmt.Fprintf(w, "Build Tags: %s\n", info.BuildTags)
	}
	return nil
}

// PrintVersion prints version information in a consistent format
func PrintVersion(toolName string, jsonOutput bool) {
	if err := WriteVersion(os.Stdout, toolName, jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

// FormatViolation renders the diagnostic printed when a pause aborts.
func FormatViolation(v *invariant.Violation) string {
	msg := fmt.Sprintf("fatal: heap invariant violated [%s]: %s", v.Code, v.Message)
	if v.Region != invariant.NoRegion {
		msg += fmt.Sprintf("\n  region: %d", v.Region)
	}
	if v.Addr != 0 {
		msg += fmt.Sprintf("\n  address: %#x", v.Addr)
	}
	if v.Caller != "" {
		msg += "\n  at: " + v.Caller
	}
	return msg
}

// ExitWithError prints an error message and exits. Invariant violations
// exit with ExitInvariant, everything else with ExitFailure.
func ExitWithError(format string, args ...interface{}) {
	for _, a := range args {
		if err, ok := a.(error); ok {
			var v *invariant.Violation
			if errors.As(err, &v) {
				ExitWithCode(ExitInvariant, "%s", FormatViolation(v))
			}
		}
	}
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(ExitFailure)
}

// ExitWithCode exits with the specified code and optional message
func ExitWithCode(code int, format string, args ...interface{}) {
	if format != "" {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	os.Exit(code)
}
