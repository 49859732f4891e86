// Package invariant provides fatal consistency checks for the collector.
// A failed check panics with a *Violation; nothing in the collector recovers
// from one except the pause driver, which only carries it across the worker
// join so the failure surfaces on the goroutine that started the pause.
package invariant

import (
	"errors"
	"fmt"
	"runtime"
)

// Code identifies which invariant failed.
type Code string

const (
	PinnedInCompactionQueue    Code = "PINNED_IN_COMPACTION_QUEUE"
	HumongousInCompactionQueue Code = "HUMONGOUS_IN_COMPACTION_QUEUE"
	SelfForwardedObject        Code = "SELF_FORWARDED_OBJECT"
	MissingClassAfterCopy      Code = "MISSING_CLASS_AFTER_COPY"
	UnmarkedPinnedHumongous    Code = "UNMARKED_PINNED_HUMONGOUS"
	OverlappingRegionQueues    Code = "OVERLAPPING_REGION_QUEUES"
	UnparsableRegion           Code = "UNPARSABLE_REGION"
)

// NoRegion is used when a violation is not tied to a region.
const NoRegion = -1

// Violation describes a broken collector invariant.
type Violation struct {
	Code    Code    // Which invariant failed
	Message string  // Human readable detail
	Region  int     // Region index or NoRegion
	Addr    uintptr // Object address or 0
	Caller  string  // Function that ran the check
}

// Error implements the error interface.
func (v *Violation) Error() string {
	s := fmt.Sprintf("[INVARIANT:%s] %s", v.Code, v.Message)
	if v.Region != NoRegion {
		s += fmt.Sprintf(" (region=%d", v.Region)
		if v.Addr != 0 {
			s += fmt.Sprintf(", addr=%#x", v.Addr)
		}
		s += ")"
	} else if v.Addr != 0 {
		s += fmt.Sprintf(" (addr=%#x)", v.Addr)
	}
	return s + fmt.Sprintf(" (caller: %s)", v.Caller)
}

// Check panics with a Violation when cond is false.
func Check(cond bool, code Code, region int, addr uintptr, format string, args ...any) {
	if cond {
		return
	}
	panic(newViolation(2, code, region, addr, fmt.Sprintf(format, args...)))
}

// Fail panics with a Violation unconditionally.
func Fail(code Code, region int, addr uintptr, format string, args ...any) {
	panic(newViolation(2, code, region, addr, fmt.Sprintf(format, args...)))
}

func newViolation(skip int, code Code, region int, addr uintptr, msg string) *Violation {
	caller := "unknown"
	if pc, _, _, ok := runtime.Caller(skip); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}
	return &Violation{Code: code, Message: msg, Region: region, Addr: addr, Caller: caller}
}

// AsViolation extracts a Violation from a recovered panic value or error.
func AsViolation(v any) (*Violation, bool) {
	switch x := v.(type) {
	case *Violation:
		return x, true
	case error:
		var viol *Violation
		if errors.As(x, &viol) {
			return viol, true
		}
	}
	return nil, false
}

// Catch runs fn and returns the Violation it raised, or nil. Panics that are
// not violations propagate unchanged.
func Catch(fn func()) (v *Violation) {
	defer func() {
		if r := recover(); r != nil {
			viol, ok := AsViolation(r)
			if !ok {
				panic(r)
			}
			v = viol
		}
	}()
	fn()
	return nil
}

// Guard runs fn and converts a Violation into a returned error so it can
// cross a goroutine boundary.
func Guard(fn func()) error {
	if v := Catch(fn); v != nil {
		return v
	}
	return nil
}
