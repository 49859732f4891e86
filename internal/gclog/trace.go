package gclog

import (
	"fmt"
	"sync"
	"time"
)

//go:generate mockgen -destination=gclogmock/tracer_mock.go -package=gclogmock github.com/orizon-lang/fullgc/internal/gclog Tracer

// Tracer receives the timing records of a collection pause.
type Tracer interface {
	// TaskDone reports that workerID finished task after d.
	TaskDone(task string, workerID uint, d time.Duration)
	// PhaseDone reports that a serial phase finished after d.
	PhaseDone(phase string, d time.Duration)
}

// NopTracer drops every record.
type NopTracer struct{}

func (NopTracer) TaskDone(string, uint, time.Duration) {}
func (NopTracer) PhaseDone(string, time.Duration)      {}

// LogTracer writes records through a Logger at debug level.
type LogTracer struct {
	Log *Logger
}

// NewLogTracer returns a tracer logging under the gc,task and gc,phases tags.
func NewLogTracer(l *Logger) *LogTracer { return &LogTracer{Log: l} }

// TaskDone logs "gc,task: <task> (worker N) 1.234ms".
func (t *LogTracer) TaskDone(task string, workerID uint, d time.Duration) {
	t.Log.With("gc", "task").Debug("%s (worker %d) %s", task, workerID, FormatMillis(d))
}

// PhaseDone logs "gc,phases: <phase> 1.234ms".
func (t *LogTracer) PhaseDone(phase string, d time.Duration) {
	t.Log.With("gc", "phases").Debug("%s %s", phase, FormatMillis(d))
}

// MultiTracer fans records out to several tracers.
type MultiTracer []Tracer

func (m MultiTracer) TaskDone(task string, workerID uint, d time.Duration) {
	for _, t := range m {
		t.TaskDone(task, workerID, d)
	}
}

func (m MultiTracer) PhaseDone(phase string, d time.Duration) {
	for _, t := range m {
		t.PhaseDone(phase, d)
	}
}

// FormatMillis renders d the way pause logs do: milliseconds, three decimals.
func FormatMillis(d time.Duration) string {
	return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}

// Phase is one timed interval of a pause.
type Phase struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Duration returns the length of the phase.
func (p Phase) Duration() time.Duration { return p.End.Sub(p.Start) }

// PhaseTimer collects the phases of one pause in completion order.
type PhaseTimer struct {
	mu     sync.Mutex
	phases []Phase
}

// NewPhaseTimer returns an empty timer.
func NewPhaseTimer() *PhaseTimer { return &PhaseTimer{} }

// Record appends a finished phase.
func (pt *PhaseTimer) Record(p Phase) {
	pt.mu.Lock()
	pt.phases = append(pt.phases, p)
	pt.mu.Unlock()
}

// Phases returns a copy of the recorded phases.
func (pt *PhaseTimer) Phases() []Phase {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return append([]Phase(nil), pt.phases...)
}

// Lookup returns the first phase called name.
func (pt *PhaseTimer) Lookup(name string) (Phase, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for _, p := range pt.phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}

// TraceTime times a scoped phase. Typical use:
//
//	defer gclog.StartTrace("Phase 4: Serial Compaction", timer, tracer).Done()
type TraceTime struct {
	name   string
	start  time.Time
	timer  *PhaseTimer
	tracer Tracer
}

// StartTrace starts timing name. timer and tracer may be nil.
func StartTrace(name string, timer *PhaseTimer, tracer Tracer) *TraceTime {
	return &TraceTime{name: name, start: time.Now(), timer: timer, tracer: tracer}
}

// Done stops the clock, records the phase and forwards it to the tracer.
func (tt *TraceTime) Done() time.Duration {
	end := time.Now()
	if tt.timer != nil {
		tt.timer.Record(Phase{Name: tt.name, Start: tt.start, End: end})
	}
	d := end.Sub(tt.start)
	if tt.tracer != nil {
		tt.tracer.PhaseDone(tt.name, d)
	}
	return d
}
