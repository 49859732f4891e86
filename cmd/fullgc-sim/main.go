package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/orizon-lang/fullgc/internal/cli"
	"github.com/orizon-lang/fullgc/internal/config"
	"github.com/orizon-lang/fullgc/internal/fullgc"
	"github.com/orizon-lang/fullgc/internal/gclog"
	"github.com/orizon-lang/fullgc/internal/heap"
	"github.com/orizon-lang/fullgc/internal/invariant"
	"github.com/orizon-lang/fullgc/internal/sim"
	"github.com/orizon-lang/fullgc/internal/telemetry"
)

const toolName = "fullgc-sim"

func main() {
	var (
		showVersion   = flag.Bool("version", false, "show version information")
		jsonOutput    = flag.Bool("json", false, "print reports (and version) as JSON")
		configPath    = flag.String("config", "", "configuration file (JSON)")
		watch         = flag.Bool("watch", false, "reload the configuration file between pauses")
		workers       = flag.Uint("workers", 0, "parallel compaction workers")
		regions       = flag.Uint("regions", 0, "heap size in regions")
		regionWords   = flag.Uint("region-words", 0, "region size in words, multiple of 64")
		deadRatio     = flag.Uint("dead-ratio", 0, "percent of dead space a region may keep (0 compacts everything)")
		verifyBitmaps = flag.Bool("verify-bitmaps", false, "clear the bitmap of compacted regions")
		metricsAddr   = flag.String("metrics-addr", "", "serve /metrics on host:port")
		http3         = flag.Bool("http3", false, "also serve /metrics over HTTP/3 on the same port")
		verbose       = flag.Bool("v", false, "verbose output")
		debug         = flag.Bool("debug", false, "debug output")

		seed      = flag.Uint64("seed", 1, "workload seed; pause i uses seed+i")
		pauses    = flag.Uint("pauses", 1, "number of pauses to simulate")
		interval  = flag.Duration("interval", 0, "delay between pauses")
		hold      = flag.Duration("hold", 0, "keep serving metrics this long after the last pause")
		live      = flag.Uint("live", 60, "percent of objects marked live")
		fill      = flag.Uint("fill", 80, "percent of regions populated")
		pinned    = flag.Uint("pinned", 2, "populated regions pinned for the pause")
		humongous = flag.Uint("humongous", 1, "pinned humongous objects")
		serial    = flag.Uint("serial", 1, "regions compacted by the serial pass")
		fault     = flag.Bool("fault-unmarked-humongous", false, "leave a pinned humongous object unmarked")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Runs simulated full collection pauses through the parallel compaction phase\n")
		fmt.Fprintf(os.Stderr, "and verifies the heap afterwards.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXIT CODES:\n")
		fmt.Fprintf(os.Stderr, "  0   all pauses completed and verified\n")
		fmt.Fprintf(os.Stderr, "  1   setup or verification failure\n")
		fmt.Fprintf(os.Stderr, "  70  heap invariant violated during a pause\n")
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s -workers 8 -dead-ratio 20            # One pause with skip compaction\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -pauses 100 -metrics-addr :9464      # Soak test with metrics\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config fullgc.json -watch -pauses 50 # Reload settings between pauses\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		cli.PrintVersion(toolName, *jsonOutput)
		os.Exit(cli.ExitOK)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(cfg *config.Config) {
		if set["workers"] {
			cfg.Workers = *workers
		}
		if set["regions"] {
			cfg.Regions = *regions
		}
		if set["region-words"] {
			cfg.RegionWords = *regionWords
		}
		if set["dead-ratio"] {
			cfg.DeadRatio = *deadRatio
		}
		if set["verify-bitmaps"] {
			cfg.VerifyBitmaps = *verifyBitmaps
		}
		if set["metrics-addr"] {
			cfg.MetricsAddr = *metricsAddr
		}
		if set["http3"] {
			cfg.HTTP3 = *http3
		}
		if set["v"] {
			cfg.Verbose = *verbose
		}
		if set["debug"] {
			cfg.Debug = *debug
		}
	}

	params := sim.DefaultParams()
	params.Seed = *seed
	params.LivePercent = *live
	params.FillPercent = *fill
	params.PinnedRegions = *pinned
	params.Humongous = *humongous
	params.SerialRegions = *serial
	params.UnmarkedHumongous = *fault

	s := &Simulator{
		ConfigPath: *configPath,
		Watch:      *watch,
		Override:   override,
		Params:     params,
		Pauses:     *pauses,
		Interval:   *interval,
		Hold:       *hold,
		JSON:       *jsonOutput,
		Out:        os.Stdout,
		LogOut:     os.Stderr,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := s.Run(ctx); err != nil {
		stop()
		cli.ExitWithError("%v", err)
	}
}

// Simulator drives a series of pauses over freshly generated heaps.
type Simulator struct {
	ConfigPath string
	Watch      bool
	Override   func(*config.Config) // Applied on top of every loaded configuration
	Params     sim.Params
	Pauses     uint
	Interval   time.Duration
	Hold       time.Duration
	JSON       bool
	Out        io.Writer
	LogOut     io.Writer

	metrics *telemetry.CompactionMetrics
}

// PauseResult is printed once per pause.
type PauseResult struct {
	Pause     uint          `json:"pause"`
	Workers   uint          `json:"workers"`
	DeadRatio uint          `json:"dead_ratio"`
	Compact   time.Duration `json:"compact_ns"`
	Report    sim.Report    `json:"report"`
}

// Run executes the configured pauses. It returns the first setup,
// invariant or verification failure; invariant violations are returned as
// *invariant.Violation.
func (s *Simulator) Run(ctx context.Context) error {
	current, closeConfig, err := s.loadConfig()
	if err != nil {
		return err
	}
	defer closeConfig()

	cfg, err := current()
	if err != nil {
		return err
	}
	log := gclog.NewLogger(s.LogOut, cfg.Verbose, cfg.Debug)
	s.metrics = telemetry.NewCompactionMetrics()

	if cfg.MetricsAddr != "" {
		shutdown, err := s.serveMetrics(cfg, log)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	for i := uint(0); i < s.Pauses; i++ {
		if i > 0 {
			if cfg, err = current(); err != nil {
				return err
			}
			if err := sleep(ctx, s.Interval); err != nil {
				if errors.Is(err, context.Canceled) {
					log.Warn("interrupted after %d pauses", i)
					return nil
				}
				return err
			}
		}
		res, err := s.pause(i, cfg, log)
		if err != nil {
			return err
		}
		if err := s.print(res); err != nil {
			return err
		}
	}

	if cfg.MetricsAddr != "" && s.Hold > 0 {
		log.Info("holding metrics endpoint for %s", s.Hold)
		if err := sleep(ctx, s.Hold); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

func (s *Simulator) loadConfig() (func() (*config.Config, error), func(), error) {
	finish := func(cfg *config.Config) (*config.Config, error) {
		c := *cfg
		if s.Override != nil {
			s.Override(&c)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return &c, nil
	}

	if !s.Watch || s.ConfigPath == "" {
		cfg, err := config.Load(s.ConfigPath)
		if err != nil {
			return nil, nil, err
		}
		return func() (*config.Config, error) { return finish(cfg) }, func() {}, nil
	}

	cfgLog := gclog.NewLogger(s.LogOut, true, false).With("config")
	w, err := config.Watch(s.ConfigPath,
		func(*config.Config) { cfgLog.Info("reloaded %s", s.ConfigPath) },
		func(err error) { cfgLog.Warn("reload of %s failed: %v", s.ConfigPath, err) })
	if err != nil {
		return nil, nil, err
	}
	return func() (*config.Config, error) { return finish(w.Current()) }, func() { _ = w.Close() }, nil
}

func (s *Simulator) serveMetrics(cfg *config.Config, log *gclog.Logger) (func(), error) {
	collectors := map[string]telemetry.MetricFunc{"fullgc": s.metrics.Snapshot}
	addr, stop, err := telemetry.StartMetricsServer(cfg.MetricsAddr, collectors)
	if err != nil {
		return nil, fmt.Errorf("metrics server: %w", err)
	}
	log.Info("serving metrics on http://%s/metrics", addr)
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = stop(ctx)
	}
	if !cfg.HTTP3 {
		return shutdown, nil
	}

	tlsCfg, err := telemetry.GenerateSelfSignedTLS([]string{"localhost", "127.0.0.1"}, 24*time.Hour)
	if err != nil {
		shutdown()
		return nil, fmt.Errorf("http3 certificate: %w", err)
	}
	h3 := telemetry.NewHTTP3Server(addr, tlsCfg, telemetry.NewMux(collectors))
	h3Addr, err := h3.Start()
	if err != nil {
		shutdown()
		return nil, fmt.Errorf("http3 server: %w", err)
	}
	log.Info("serving metrics on https://%s/metrics (HTTP/3)", h3Addr)
	return func() {
		_ = h3.Stop()
		shutdown()
	}, nil
}

func (s *Simulator) pause(i uint, cfg *config.Config, log *gclog.Logger) (res PauseResult, err error) {
	h, err := heap.New(heap.Layout{Regions: cfg.Regions, RegionWords: uintptr(cfg.RegionWords)})
	if err != nil {
		return res, err
	}
	defer h.Close()

	c, err := fullgc.NewCollector(h, fullgc.Config{
		Workers:       cfg.Workers,
		DeadRatio:     cfg.DeadRatio,
		VerifyBitmaps: cfg.VerifyBitmaps,
	}, fullgc.Options{
		Tracer:   gclog.MultiTracer{gclog.NewLogTracer(log), s.metrics},
		Observer: s.metrics,
		Logger:   log,
	})
	if err != nil {
		return res, err
	}

	p := s.Params
	p.Seed += uint64(i)
	scenario, err := sim.Populate(c, p)
	if err != nil {
		return res, err
	}
	scenario.Prepare()

	if v := invariant.Catch(func() { fullgc.RunCompactionPhase(c) }); v != nil {
		return res, v
	}
	if err := scenario.Verify(); err != nil {
		return res, fmt.Errorf("pause %d: heap verification failed: %w", i, err)
	}
	s.metrics.PauseDone()

	res = PauseResult{Pause: i, Workers: cfg.Workers, DeadRatio: cfg.DeadRatio, Report: scenario.Report()}
	if ph, ok := c.Timer().Lookup(fullgc.CompactPhase); ok {
		res.Compact = ph.Duration()
	}
	return res, nil
}

func (s *Simulator) print(res PauseResult) error {
	if s.JSON {
		data, err := json.Marshal(res)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(s.Out, string(data))
		return err
	}
	r := res.Report
	_, err := fmt.Fprintf(s.Out, "pause %d (seed %d, %d workers): %d/%d objects live, %d moved, %d regions freed, %d skipped, %d pinned, compaction %s\n",
		res.Pause, r.Seed, res.Workers, r.LiveObjects, r.Objects, r.MovedObjects,
		r.FreedRegions, r.SkippedRegions, r.PinnedRegions, gclog.FormatMillis(res.Compact))
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
