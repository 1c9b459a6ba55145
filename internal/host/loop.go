package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Call when the loop is not running.
var ErrStopped = errors.New("host loop not running")

// Ticker is what the loop drives once per tick.
type Ticker interface {
	Pump()
}

type call struct {
	fn   func()
	done chan struct{}
}

// Loop is the host goroutine. It pumps the ticker at a fixed interval and
// runs calls from other goroutines between ticks, so everything the
// ticker owns is only touched from here.
type Loop struct {
	ticker   Ticker
	interval time.Duration
	logger   *zap.Logger
	calls    chan call
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewLoop(ticker Ticker, interval time.Duration, logger *zap.Logger) *Loop {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &Loop{
		ticker:   ticker,
		interval: interval,
		logger:   logger,
		calls:    make(chan call),
	}
}

// Start startet die Tick-Schleife
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}

	l.running = true
	l.stopChan = make(chan struct{})
	l.wg.Add(1)

	go l.run(l.stopChan)

	l.logger.Info("Host loop started", zap.Duration("interval", l.interval))
	return nil
}

// Stop stoppt die Schleife und wartet auf den letzten Tick
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopChan)
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("Host loop stopped")
}

func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(stop <-chan struct{}) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case c := <-l.calls:
			l.invoke(c)
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Host tick failed", zap.Error(fmt.Errorf("panic: %v", r)))
		}
	}()
	l.ticker.Pump()
}

func (l *Loop) invoke(c call) {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Host call failed", zap.Error(fmt.Errorf("panic: %v", r)))
		}
	}()
	c.fn()
}

// Call runs fn on the host goroutine and waits for it to return. ctx only
// bounds the wait for the loop to pick the call up; once running, fn is
// waited for.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	l.mu.Lock()
	stop := l.stopChan
	running := l.running
	l.mu.Unlock()
	if !running {
		return ErrStopped
	}

	c := call{fn: fn, done: make(chan struct{})}
	select {
	case l.calls <- c:
	case <-stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-c.done
	return nil
}

// CallErr is Call for functions that return an error.
func (l *Loop) CallErr(ctx context.Context, fn func() error) error {
	var err error
	if cerr := l.Call(ctx, func() { err = fn() }); cerr != nil {
		return cerr
	}
	return err
}
