// Package reclaim deletes rooms that stayed empty in the media backend for longer than the idle
// threshold.
package reclaim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/lightspeed-rooms/gateway"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/metrics"
	"github.com/tcriess/lightspeed-rooms/persistence"
)

// Scheduler runs Tick on a fixed interval. It owns its cron runner; Start and Stop may be called
// from any goroutine.
type Scheduler struct {
	store         persistence.RoomStore
	gw            gateway.Gateway
	interval      time.Duration
	idleThreshold time.Duration
	metrics       *metrics.Metrics
	logger        hclog.Logger
	now           func() time.Time

	mu     sync.Mutex
	runner *cron.Cron
	cancel context.CancelFunc
}

type Option func(*Scheduler)

// WithClock replaces the wall clock used to stamp and age empty rooms.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithMetrics counts ticks and reclaimed rooms in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

func New(store persistence.RoomStore, gw gateway.Gateway, interval, idleThreshold time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:         store,
		gw:            gw,
		interval:      interval,
		idleThreshold: idleThreshold,
		logger:        globals.AppLogger.Named("reclaim"),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the periodic tick. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	cronLogger := cron.PrintfLogger(s.logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}))
	runner := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	runner.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("reclamation tick aborted", "error", err)
		}
	}))
	runner.Start()
	s.runner = runner
	s.cancel = cancel
	s.logger.Info("scheduler started", "interval", s.interval, "idle_threshold", s.idleThreshold)
}

// Stop cancels a running tick and waits until it returned or ctx is done. The scheduler can be
// started again afterwards.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	runner, cancel := s.runner, s.cancel
	s.runner, s.cancel = nil, nil
	s.mu.Unlock()
	if runner == nil {
		return nil
	}
	cancel()
	select {
	case <-runner.Stop().Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether Start has been called without a following Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner != nil
}

// Tick compares the stored rooms against the live rooms once and returns the names of the rooms
// it deleted. A room absent from the backend counts as empty. Nothing is marked or deleted when
// either side cannot be read.
func (s *Scheduler) Tick(ctx context.Context) ([]string, error) {
	if s.metrics != nil {
		s.metrics.ReclaimTicks.Inc()
	}
	reclaimed, err := s.tick(ctx)
	if err != nil && s.metrics != nil {
		s.metrics.ReclaimFailed.Inc()
	}
	return reclaimed, err
}

func (s *Scheduler) tick(ctx context.Context) ([]string, error) {
	rooms, err := s.store.GetRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("get rooms: %w", err)
	}
	liveRooms, err := s.gw.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list live rooms: %w", err)
	}
	counts := make(map[string]uint32, len(liveRooms))
	for _, lr := range liveRooms {
		counts[lr.Name] = lr.NumParticipants
	}

	now := s.now()
	reclaimed := make([]string, 0)
	for _, room := range rooms {
		if err := ctx.Err(); err != nil {
			return reclaimed, err
		}
		name := room.RoomName
		switch {
		case counts[name] > 0:
			if err := s.store.MarkActive(ctx, name, now); err != nil {
				s.logger.Error("could not mark room active", "room", name, "error", err)
			}

		case room.EmptySince == nil:
			if err := s.store.MarkEmpty(ctx, name, now); err != nil {
				s.logger.Error("could not mark room empty", "room", name, "error", err)
				continue
			}
			s.logger.Debug("room is empty", "room", name)

		case now.Sub(*room.EmptySince) >= s.idleThreshold:
			if err := s.gw.DeleteRoom(ctx, name); err != nil && !gateway.IsNotFound(err) {
				s.logger.Warn("could not delete live room", "room", name, "error", err)
			}
			if err := s.store.DeleteRoom(ctx, name); err != nil {
				s.logger.Error("could not delete room", "room", name, "error", err)
				continue
			}
			reclaimed = append(reclaimed, name)
			if s.metrics != nil {
				s.metrics.RoomsReclaimed.Inc()
			}
			s.logger.Info("reclaimed idle room", "room", name, "empty_since", *room.EmptySince)
		}
	}
	return reclaimed, nil
}
