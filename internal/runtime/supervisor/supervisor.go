// Package supervisor manages named goroutines tied to a shared context, with
// panic recovery and optional restart-with-backoff for long-running loops.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"casewatch/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger
	wg     sync.WaitGroup
}

func New(parent context.Context, log logx.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Supervisor{ctx: ctx, cancel: cancel, log: log}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines to exit.
func (s *Supervisor) Cancel() { s.cancel() }

// Go runs fn once under the supervisor context. Panics are recovered and logged.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(name, fn)
	}()
}

// GoRestart runs fn in a loop, restarting it with exponential backoff whenever
// it returns or panics while the context is still live. Loops like a transport
// poller should self-heal rather than take the process down.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context), base, maxDelay time.Duration) {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if maxDelay < base {
		maxDelay = 10 * time.Second
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		delay := base
		for {
			start := time.Now()
			s.run(name, fn)
			if s.ctx.Err() != nil {
				return
			}
			// A long healthy run resets the backoff.
			if time.Since(start) > time.Minute {
				delay = base
			}
			s.log.Warn("goroutine exited, restarting",
				logx.String("name", name), logx.Duration("backoff", delay))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}()
}

func (s *Supervisor) run(name string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in goroutine",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	fn(s.ctx)
}

// Wait blocks until all goroutines exit or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor wait: %w", ctx.Err())
	}
}
