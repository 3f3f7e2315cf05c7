// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

// Package maintenance runs background upkeep over the context store on a
// cron schedule.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memorg-dev/memorg/internal/memory"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Tierer is the store operation the scheduler drives.
type Tierer interface {
	RunTiering(ctx context.Context) (memory.Report, error)
}

type Config struct {
	// Schedule is a standard cron expression or descriptor such as
	// "@every 10m". Empty disables scheduled runs.
	Schedule string `mapstructure:"schedule"`
	// Timeout bounds a single pass; 0 means no limit.
	Timeout time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() Config {
	return Config{Schedule: "@every 10m", Timeout: 5 * time.Minute}
}

func (c Config) Validate() error {
	if c.Timeout < 0 {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "tiering timeout must be >= 0, got %s", c.Timeout)
	}
	if c.Schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "tiering schedule %q: %w", c.Schedule, err)
	}
	return nil
}

// Run records the outcome of one tiering pass.
type Run struct {
	Started  time.Time
	Duration time.Duration
	Report   memory.Report
	Err      error
}

// Scheduler runs tiering passes on a schedule. Passes never overlap: a
// scheduled tick that finds one still running is skipped.
type Scheduler struct {
	cfg    Config
	tierer Tierer
	logger *slog.Logger
	cron   *cron.Cron

	runMu sync.Mutex // held for the duration of a pass

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	last    *Run
}

func New(cfg Config, tierer Tierer, logger *slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tierer == nil {
		return nil, memerr.New(memerr.CodeConfigValidateInvalidValue, "scheduler requires a tierer")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cfg:    cfg,
		tierer: tierer,
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if cfg.Schedule != "" {
		if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
			return nil, memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "tiering schedule %q: %w", cfg.Schedule, err)
		}
	}
	return s, nil
}

// Start begins scheduled passes. It returns immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("tiering scheduler started", "schedule", s.cfg.Schedule)
}

// Stop cancels any pass in flight and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	// Waits for a RunOnce pass that is not owned by cron.
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.logger.Info("tiering scheduler stopped")
}

// RunOnce runs a pass now, waiting for any pass in progress to finish
// first. Passes are idempotent so back-to-back runs are harmless.
func (s *Scheduler) RunOnce(ctx context.Context) (memory.Report, error) {
	if err := s.ctx.Err(); err != nil {
		return memory.Report{}, memerr.New(memerr.CodeMaintenanceFailure, "scheduler is stopped")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unlink := context.AfterFunc(s.ctx, cancel)
	defer unlink()

	run := s.run(ctx)
	return run.Report, run.Err
}

// LastRun is the most recent completed pass, or nil before the first.
func (s *Scheduler) LastRun() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

func (s *Scheduler) tick() {
	_ = s.run(s.ctx)
}

func (s *Scheduler) run(ctx context.Context) Run {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	run := Run{Started: time.Now()}
	run.Report, run.Err = s.tierer.RunTiering(ctx)
	run.Duration = time.Since(run.Started)

	if run.Err != nil {
		s.logger.Error("tiering pass failed",
			"error", run.Err,
			"duration", run.Duration,
			"sessions", run.Report.Sessions)
	} else {
		s.logger.Info("tiering pass complete",
			"duration", run.Duration,
			"sessions", run.Report.Sessions,
			"rescored", run.Report.Rescored,
			"warmed", run.Report.Warmed,
			"cooled", run.Report.Cooled,
			"summaries", run.Report.Summaries)
	}

	s.mu.Lock()
	s.last = &run
	s.mu.Unlock()
	return run
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
