package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// MetricFunc returns a map of metric name -> value.
// Names should be simple tokens using [a-zA-Z0-9_:] to ease exposition.
type MetricFunc func() map[string]float64

// Handler renders every collector under its name prefix in text exposition
// format, sorted by collector and then by metric.
func Handler(collectors map[string]MetricFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		names := make([]string, 0, len(collectors))
		for name := range collectors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fn := collectors[name]
			if fn == nil {
				continue
			}
			snapshot := fn()
			keys := make([]string, 0, len(snapshot))
			for k := range snapshot {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "%s %g\n", sanitizeMetricToken(name+"_"+k), snapshot[k])
			}
		}
	})
}

// NewMux serves Handler under /metrics.
func NewMux(collectors map[string]MetricFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(collectors))
	return mux
}

// StartMetricsServer serves /metrics on addr (host:port).
// It returns the bound address (which may differ if port 0 was used), and a shutdown function.
func StartMetricsServer(addr string, collectors map[string]MetricFunc) (string, func(ctx context.Context) error, error) {
	srv := &http.Server{Addr: addr, Handler: NewMux(collectors), ReadHeaderTimeout: 3 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	return ln.Addr().String(), srv.Shutdown, nil
}

func sanitizeMetricToken(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == ':' {
			b[i] = c
		} else {
			b[i] = '_'
		}
	}
	if len(b) > 0 && b[0] >= '0' && b[0] <= '9' {
		return "_" + string(b)
	}
	out := string(b)
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return out
}
