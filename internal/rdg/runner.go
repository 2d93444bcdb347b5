package rdg

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bankbridge/bankbridge/internal/domain"
)

var rdgInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "bankbridge_rdg_in_flight",
	Help: "Generator transfer tasks currently in flight.",
})

const (
	// reportEvery is the tick interval between progress reports.
	reportEvery = 10
	// drainTimeout bounds how long Stop waits for in-flight transfers.
	drainTimeout = 30 * time.Second
)

var (
	ErrAlreadyRunning = errors.New("RDG is already running")
	ErrNotRunning     = errors.New("RDG is not running")
)

// TransferFunc runs one transfer end to end and reports whether it settled.
type TransferFunc func(ctx context.Context, req domain.TransferRequest) bool

// TransferFactory builds the transfer pipeline for one run. The runner calls
// it on every Start so the pipeline picks up that run's target URL and
// connection budget.
type TransferFactory func(baseURL string, concurrency int) TransferFunc

// Runner drives synthetic load: every second it launches cfg.RPS transfer
// tasks, waits for the batch, and sleeps out the remainder of the tick. A
// weighted semaphore caps transfers in flight across ticks.
type Runner struct {
	factory TransferFactory
	log     *zap.Logger

	mu      sync.Mutex
	running bool
	cfg     Config
	stats   *stats
	stop    chan struct{}
	tasks   *sync.WaitGroup
}

func NewRunner(factory TransferFactory, log *zap.Logger) *Runner {
	return &Runner{factory: factory, log: log}
}

// Start validates cfg and launches the tick loop. It fails when a run is
// already active.
func (r *Runner) Start(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}
	r.running = true
	r.cfg = cfg
	r.stats = newStats()
	r.stop = make(chan struct{})
	r.tasks = &sync.WaitGroup{}

	engines := make([]string, len(cfg.Engines))
	for i, e := range cfg.Engines {
		engines[i] = string(e)
	}
	r.log.Info("RDG started",
		zap.Int("rps", cfg.RPS),
		zap.Int("concurrent", cfg.Concurrent),
		zap.Strings("active_dbms", engines),
		zap.Int64("min_amount", cfg.MinAmount),
		zap.Int64("max_amount", cfg.MaxAmount),
		zap.Bool("allow_same_db", cfg.AllowSameDB))

	// The loop holds a slot in tasks until it exits, so the drain in Stop
	// cannot observe zero while the loop is still spawning.
	r.tasks.Add(1)
	go r.loop(cfg, r.stats, r.stop, r.tasks, r.factory(cfg.BaseURL, cfg.Concurrent))
	return nil
}

// Stop ends the run and drains in-flight transfers for up to 30 seconds.
// Transfers are never cancelled mid-protocol: a killed call could leave a
// hold the ledger knows about and the caller does not.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.running = false
	close(r.stop)
	st := r.stats
	tasks := r.tasks
	r.mu.Unlock()

	r.log.Info("RDG stopping, draining in-flight transfers",
		zap.Int64("in_flight", st.inFlight.Load()))

	drained := make(chan struct{})
	go func() {
		tasks.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		r.log.Info("all in-flight transfers drained")
	case <-time.After(drainTimeout):
		r.log.Warn("drain deadline exceeded, abandoning in-flight transfers",
			zap.Int64("in_flight", st.inFlight.Load()))
	}

	r.report(st)
	return nil
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Config returns the most recently started run's settings.
func (r *Runner) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Snapshot returns the current run's counters, or a zero snapshot before
// the first start.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	st := r.stats
	r.mu.Unlock()
	if st == nil {
		return Snapshot{}
	}
	return st.snapshot()
}

func (r *Runner) loop(cfg Config, st *stats, stop chan struct{}, tasks *sync.WaitGroup, run TransferFunc) {
	defer tasks.Done()
	gen := newGenerator(cfg)
	sem := semaphore.NewWeighted(int64(cfg.Concurrent))
	tick := int64(0)

	for {
		select {
		case <-stop:
			return
		default:
		}
		tickStart := time.Now()

		var batch sync.WaitGroup
		for i := 0; i < cfg.RPS; i++ {
			req := gen.Next()
			batch.Add(1)
			tasks.Add(1)
			go r.task(req, st, sem, &batch, tasks, run)
		}
		batch.Wait()

		tick++
		st.lastTick.Store(tick)
		if tick%reportEvery == 0 {
			r.report(st)
		}

		// Hold the tick to one second so the rate does not drift.
		if remain := time.Second - time.Since(tickStart); remain > 0 {
			select {
			case <-stop:
				return
			case <-time.After(remain):
			}
		}
	}
}

func (r *Runner) task(req domain.TransferRequest, st *stats, sem *semaphore.Weighted, batch, tasks *sync.WaitGroup, run TransferFunc) {
	defer batch.Done()
	defer tasks.Done()

	st.sent.Add(1)

	// Background context on purpose: the stop path drains instead of
	// cancelling, see Stop.
	ctx := context.Background()
	if err := sem.Acquire(ctx, 1); err != nil {
		st.fail.Add(1)
		return
	}
	defer sem.Release(1)

	st.inFlight.Add(1)
	rdgInFlight.Inc()
	start := time.Now()
	ok := run(ctx, req)
	st.observe(ok, time.Since(start))
	rdgInFlight.Dec()
	st.inFlight.Add(-1)
}

func (r *Runner) report(st *stats) {
	snap := st.snapshot()
	r.log.Info("RDG progress",
		zap.Float64("uptime_sec", snap.UptimeSec),
		zap.Int64("sent", snap.Sent),
		zap.Int64("ok", snap.OK),
		zap.Int64("fail", snap.Fail),
		zap.Float64("actual_rps", snap.ActualRPS),
		zap.Float64("success_rate", snap.SuccessRate),
		zap.Float64("avg_latency_ms", snap.AvgLatencyMS),
		zap.Int64("in_flight", snap.InFlight),
		zap.Int64("last_tick", snap.LastTick))
}
