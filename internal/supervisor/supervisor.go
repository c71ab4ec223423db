// Package supervisor spawns, tracks, and gracefully drains pfwd's
// pipelines, wiring the process's shutdown signals to a single cancellation
// point per spec.md §4.9.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	libctx "github.com/nabbar/golib/context"
	startstop "github.com/nabbar/golib/runner/startStop"

	"github.com/FakeKuryr/pfwd/internal/config"
	"github.com/FakeKuryr/pfwd/internal/pflog"
	"github.com/FakeKuryr/pfwd/internal/pipeline"
)

// GracePeriod bounds how long Run waits for pipelines to drain after
// cancellation before force-terminating them, per spec.md §4.9 step 4.
const GracePeriod = 10 * time.Second

// startupPollWindow bounds how long Run waits, right after launching a
// pipeline, for a synchronous bind-time failure to surface through
// ErrorsLast before treating the pipeline as successfully started.
const startupPollWindow = 500 * time.Millisecond

// Supervisor owns the running set of pipelines built from a validated spec
// list, each wrapped in a startStop runner for its start/stop lifecycle.
type Supervisor struct {
	log   pflog.Logger
	specs []config.ForwardSpec
}

type namedRunner struct {
	label string
	run   startstop.StartStop
	pipe  pipeline.Pipeline
}

// New builds a Supervisor over the validated spec list; it does not start
// anything yet.
func New(specs []config.ForwardSpec, log pflog.Logger) *Supervisor {
	return &Supervisor{specs: specs, log: log}
}

// Run starts every pipeline, blocks until a shutdown signal or a fatal
// startup error, then drains all pipelines within GracePeriod before
// returning. A startup failure in any one pipeline aborts the rest and is
// returned; a mid-run pipeline error is logged and does not abort peers.
//
// Every pipeline's Run/Stop is driven off cfg, a nabbar/golib/context
// Config[string]: it is itself a context.Context (so cancel still reaches
// every pipeline the ordinary way) but also doubles as the concurrent
// label->namedRunner registry that drainAll walks, replacing a hand-rolled
// mutex-guarded slice with the library's own atomic map.
func (s *Supervisor) Run(parent context.Context) error {
	stdCtx, cancel := context.WithCancel(parent)
	defer cancel()

	cfg := libctx.New[string](stdCtx)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	startupErr := make(chan error, 1)

	for _, spec := range s.specs {
		spec := spec
		p, err := pipeline.New(spec, s.log)
		if err != nil {
			cancel()
			return err
		}

		label := spec.Label
		r := startstop.New(
			func(ctx context.Context) error {
				return p.Run(ctx)
			},
			func(ctx context.Context) error {
				return p.Close()
			},
		)

		cfg.Store(label, namedRunner{label: label, run: r, pipe: p})

		if err := r.Start(cfg); err != nil {
			startupErr <- err
			break
		}

		// Start launches the pipeline's Run asynchronously and always
		// returns nil immediately; a bind failure surfaces moments later
		// through ErrorsLast. Bind happens at the very top of Run, so a
		// short poll window is enough to treat it as a startup failure
		// rather than a mid-run one.
		if err := awaitStartup(cfg, r, startupPollWindow); err != nil {
			startupErr <- err
			break
		}

		go func(label string, r startstop.StartStop) {
			for cfg.Err() == nil {
				time.Sleep(250 * time.Millisecond)
				if !r.IsRunning() {
					if err := r.ErrorsLast(); err != nil {
						s.log.WithField("label", label).WithError(err).Warn("pipeline stopped running")
					}
					return
				}
			}
		}(label, r)
	}

	select {
	case err := <-startupErr:
		s.log.WithError(err).Error("pipeline startup failed, aborting supervisor")
		cancel()
		s.drainAll(cfg)
		return err
	case sig := <-sigCh:
		s.log.WithField("signal", sig.String()).Info("shutdown signal received, draining")
	case <-cfg.Done():
	}

	drained := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			s.log.WithField("signal", sig.String()).Warn("second signal received, forcing exit")
			os.Exit(1)
		case <-drained:
		}
	}()

	cancel()
	s.drainAll(cfg)
	close(drained)

	return nil
}

// awaitStartup polls r for up to window for either a reported error or a
// confirmed running state.
func awaitStartup(ctx context.Context, r startstop.StartStop, window time.Duration) error {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if err := r.ErrorsLast(); err != nil {
			return err
		}
		if r.IsRunning() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
	return r.ErrorsLast()
}

// drainAll stops every runner stored in cfg, giving each Stop GracePeriod;
// if the set has not finished one second after that, it force-closes every
// pipeline and returns regardless of stragglers.
func (s *Supervisor) drainAll(cfg libctx.Config[string]) {
	var runners []namedRunner
	cfg.Walk(func(_ string, val interface{}) bool {
		if nr, ok := val.(namedRunner); ok {
			runners = append(runners, nr)
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, nr := range runners {
			wg.Add(1)
			go func(nr namedRunner) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), GracePeriod)
				defer cancel()
				if err := nr.run.Stop(ctx); err != nil {
					s.log.WithError(err).WithField("label", nr.label).Warn("pipeline stop reported an error")
				}
			}(nr)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(GracePeriod + time.Second):
		s.log.Warn("grace period exceeded, forcing remaining pipelines closed")
		for _, nr := range runners {
			_ = nr.pipe.Close()
		}
	}
}
