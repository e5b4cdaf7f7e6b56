// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package frame implements the per-session frame state machine.
//
// A frame moves Idle -> WaitingToBegin -> Active -> Idle through
// Wait, Begin and End. Only one frame is in flight at a time. Calls made
// out of order are rejected instead of being queued.
package frame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/gogpu/vrbridge/hcr"
	"github.com/gogpu/vrbridge/result"
)

// Phase is the sequencer state.
type Phase int

const (
	// PhaseIdle accepts Wait.
	PhaseIdle Phase = iota
	// PhaseWaitingToBegin is entered by Wait and accepts Begin once the
	// wait has returned.
	PhaseWaitingToBegin
	// PhaseActive is entered by Begin and accepts End.
	PhaseActive
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseWaitingToBegin:
		return "WaitingToBegin"
	case PhaseActive:
		return "Active"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Config controls the readiness wait.
type Config struct {
	// WaitTimeout bounds Wait, including time spent behind another
	// thread's active frame.
	WaitTimeout time.Duration

	// InitialDelay, MaxDelay and Multiplier shape the exponential backoff
	// between runtime readiness polls.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// MaxAttempts caps readiness polls within WaitTimeout.
	MaxAttempts int
}

// DefaultConfig returns the sequencer defaults.
func DefaultConfig() Config {
	return Config{
		WaitTimeout:  2 * time.Second,
		InitialDelay: time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = max(d.MaxDelay, c.InitialDelay)
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}

// SubmitFunc does the work of EndFrame once the call has been accepted.
type SubmitFunc func() error

// Sequencer enforces frame ordering for one session. It is safe for
// concurrent use.
type Sequencer struct {
	mu   sync.Mutex
	cond *sync.Cond

	rt      hcr.Runtime
	cfg     Config
	retrier retry.Retry[struct{}]

	phase    Phase
	expected int64
	started  bool
	inFlight bool
	lost     bool
	closed   bool

	logger *slog.Logger
}

// New creates a sequencer waiting on rt.
func New(rt hcr.Runtime, cfg Config) *Sequencer {
	cfg = cfg.withDefaults()
	s := &Sequencer{
		rt:     rt,
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
	}
	s.cond = sync.NewCond(&s.mu)
	s.retrier = retry.New[struct{}](retry.Config{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		Multiplier:    cfg.Multiplier,
		BackoffPolicy: retry.BackoffExponential,
		IsRetryable: func(err error) bool {
			return errors.Is(err, hcr.ErrNotReady)
		},
	})
	return s
}

// SetLogger sets the sequencer logger.
func (s *Sequencer) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

// Phase returns the current phase.
func (s *Sequencer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Expected returns the next frame index and whether it has been set by a
// first Wait.
func (s *Sequencer) Expected() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expected, s.started
}

// Lost reports whether the device was lost.
func (s *Sequencer) Lost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// checkLocked rejects every call after device loss or Drain.
func (s *Sequencer) checkLocked(op string) error {
	if s.lost {
		return fmt.Errorf("frame: %s: %w", op, result.ErrLostDevice)
	}
	if s.closed {
		return fmt.Errorf("%w: %s after session close", result.ErrCallOutOfOrder, op)
	}
	if s.inFlight {
		return fmt.Errorf("%w: %s while another frame call is in flight", result.ErrCallOutOfOrder, op)
	}
	return nil
}

// Wait blocks until the runtime has a frame slot for frame index. The
// first successful Wait fixes the index sequence. If another frame is
// Active, Wait first waits for its End. The whole call is bounded by
// Config.WaitTimeout and fails with result.ErrTimeout when it runs out.
func (s *Sequencer) Wait(ctx context.Context, index int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WaitTimeout)
	defer cancel()

	s.mu.Lock()
	if err := s.checkLocked("wait"); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.phase == PhaseActive {
		stop := context.AfterFunc(ctx, s.broadcast)
		for s.phase == PhaseActive && !s.stopped() && ctx.Err() == nil {
			s.cond.Wait()
		}
		stop()
		if err := s.checkLocked("wait"); err != nil {
			s.mu.Unlock()
			return err
		}
		if s.phase == PhaseActive {
			s.mu.Unlock()
			return fmt.Errorf("%w: frame %d still active after %v", result.ErrTimeout, s.expected, s.cfg.WaitTimeout)
		}
	}
	if s.phase == PhaseWaitingToBegin {
		s.mu.Unlock()
		return fmt.Errorf("%w: wait for frame %d before beginning frame %d", result.ErrCallOutOfOrder, index, s.expected)
	}
	if s.started && index != s.expected {
		s.mu.Unlock()
		return fmt.Errorf("%w: wait for frame %d, expected %d", result.ErrOutOfOrderFrame, index, s.expected)
	}
	s.phase = PhaseWaitingToBegin
	s.inFlight = true
	logger := s.logger
	s.mu.Unlock()

	start := time.Now()
	err := s.waitSlot(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	defer s.cond.Broadcast()
	if err != nil {
		s.phase = PhaseIdle
		if errors.Is(err, result.ErrLostDevice) {
			s.lost = true
			logger.Error("frame: device lost", "frame", index)
		}
		return err
	}
	s.started = true
	s.expected = index
	logger.Debug("frame: slot ready", "frame", index, "waited", time.Since(start))
	return nil
}

// stopped reports device loss or Drain.
func (s *Sequencer) stopped() bool { return s.lost || s.closed }

func (s *Sequencer) broadcast() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// waitSlot polls the runtime until it has a slot, retrying while it reports
// hcr.ErrNotReady.
func (s *Sequencer) waitSlot(ctx context.Context) error {
	var last error
	_, err := s.retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
		last = s.rt.WaitFrameSlot(ctx)
		return struct{}{}, last
	})
	if err == nil && last == nil {
		return nil
	}
	switch {
	case errors.Is(last, result.ErrLostDevice) || errors.Is(err, result.ErrLostDevice):
		return fmt.Errorf("frame: wait for slot: %w", hcr.ErrDeviceLost)
	case ctx.Err() != nil, errors.Is(last, hcr.ErrNotReady), errors.Is(last, context.DeadlineExceeded):
		return fmt.Errorf("%w: no frame slot within %v", result.ErrTimeout, s.cfg.WaitTimeout)
	case last != nil:
		return fmt.Errorf("frame: wait for slot: %w", last)
	default:
		return fmt.Errorf("frame: wait for slot: %w", err)
	}
}

// Begin starts frame index. It requires a completed Wait for the same
// index.
func (s *Sequencer) Begin(index int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked("begin"); err != nil {
		return err
	}
	switch s.phase {
	case PhaseIdle:
		return fmt.Errorf("%w: begin frame %d without wait", result.ErrOutOfOrderFrame, index)
	case PhaseActive:
		return fmt.Errorf("%w: begin frame %d while frame %d is active", result.ErrCallOutOfOrder, index, s.expected)
	}
	if index != s.expected {
		return fmt.Errorf("%w: begin frame %d, expected %d", result.ErrOutOfOrderFrame, index, s.expected)
	}
	s.phase = PhaseActive
	return nil
}

// End finishes frame index. submit runs without the sequencer lock; its
// error is returned but the frame is consumed either way: the sequencer
// returns to Idle and expects index+1. The runtime is told the frame was
// submitted unless the device was lost.
func (s *Sequencer) End(index int64, submit SubmitFunc) error {
	s.mu.Lock()
	if err := s.checkLocked("end"); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.phase != PhaseActive {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("%w: end frame %d in phase %s", result.ErrCallOutOfOrder, index, phase)
	}
	if index != s.expected {
		s.mu.Unlock()
		return fmt.Errorf("%w: end frame %d, expected %d", result.ErrOutOfOrderFrame, index, s.expected)
	}
	s.inFlight = true
	logger := s.logger
	s.mu.Unlock()

	var err error
	if submit != nil {
		err = submit()
	}
	if !errors.Is(err, result.ErrLostDevice) {
		if serr := s.rt.FrameSubmitted(index); serr != nil {
			err = errors.Join(err, serr)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseIdle
	s.expected = index + 1
	s.inFlight = false
	if errors.Is(err, result.ErrLostDevice) {
		s.lost = true
		logger.Error("frame: device lost", "frame", index, "err", err)
	} else if err != nil {
		logger.Warn("frame: end frame failed", "frame", index, "err", err)
	}
	s.cond.Broadcast()
	return err
}

// Drain rejects new calls and waits for the call in flight, if any, to
// return.
func (s *Sequencer) Drain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	if !s.inFlight {
		return nil
	}
	stop := context.AfterFunc(ctx, s.broadcast)
	defer stop()
	for s.inFlight && ctx.Err() == nil {
		s.cond.Wait()
	}
	if s.inFlight {
		return fmt.Errorf("frame: drain: %w", ctx.Err())
	}
	return nil
}
