package fullgc

import (
	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/fullgc/internal/gclog"
	"github.com/orizon-lang/fullgc/internal/invariant"
)

// CompactPhase names the phase in traces and the phase timer.
const CompactPhase = "Phase 4: Compact heap"

// RunCompactionPhase runs the compaction phase of c's pause: one Work call
// per worker in parallel, a join, then the serial compaction. There is no
// cancellation; once started the phase runs to completion.
//
// A worker that hits an invariant violation stops, the remaining workers
// finish, and the first violation is re-raised as a panic on the calling
// goroutine after the join.
func RunCompactionPhase(c *Collector) *CompactTask {
	c.verifyQueues()

	tt := gclog.StartTrace(CompactPhase, c.timer, c.tracer)
	task := NewCompactTask(c)

	var g errgroup.Group
	g.SetLimit(int(c.config.Workers))
	for w := uint(0); w < c.config.Workers; w++ {
		g.Go(func() error {
			return invariant.Guard(func() { task.Work(w) })
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Error("compaction aborted: %v", err)
		panic(err)
	}

	task.SerialCompaction()
	verifyAfterCompaction(c)
	d := tt.Done()
	c.log.With("phases").Info("%s %s (%d workers)", CompactPhase, gclog.FormatMillis(d), c.config.Workers)
	return task
}
