package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrInvalidSweepInterval is returned for a non-positive sweep interval.
var ErrInvalidSweepInterval = errors.New("invalid sweep interval")

// PendingProcessor is implemented by the Orchestrator.
type PendingProcessor interface {
	ProcessPendingWorkflows(ctx context.Context) (int, error)
}

// Sweeper re-drives pending workflows on a fixed interval. It sweeps once
// right after Start so work left behind by a restart is picked up
// immediately.
type Sweeper struct {
	schedule  cron.Schedule
	processor PendingProcessor
	logger    zerolog.Logger
	done      chan struct{}
}

// NewSweeper creates a Sweeper that runs every interval. Intervals under a
// second are rounded up to one second.
func NewSweeper(interval time.Duration, processor PendingProcessor, logger zerolog.Logger) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSweepInterval, interval)
	}
	parser := cron.NewParser(cron.Descriptor)
	schedule, err := parser.Parse("@every " + interval.String())
	if err != nil {
		return nil, errors.Join(ErrInvalidSweepInterval, err)
	}
	return &Sweeper{
		schedule:  schedule,
		processor: processor,
		logger:    logger.With().Str("component", "sweeper").Logger(),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the sweep loop and returns immediately. The loop exits when
// ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Done is closed once the loop has exited.
func (s *Sweeper) Done() <-chan struct{} {
	return s.done
}

// NextRun returns the next scheduled sweep after now.
func (s *Sweeper) NextRun() time.Time {
	return s.schedule.Next(time.Now())
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)
	for {
		timer := time.NewTimer(time.Until(s.NextRun()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("sweeper shutting down")
			return
		case <-timer.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.processor.ProcessPendingWorkflows(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().Err(err).Msg("sweep failed")
		return
	}
	s.logger.Debug().Int("processed", n).Msg("sweep completed")
}
