package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetgreg/dotrecall/pkg/logger"
)

// SweepFunc compresses sessions whose STM is still over the threshold.
type SweepFunc func(ctx context.Context) (int, error)

// Sweeper runs a SweepFunc on a cron schedule.
type Sweeper struct {
	expr  string
	sweep SweepFunc

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewSweeper validates expr (five-field cron syntax) and returns a sweeper
// that calls sweep at every tick.
func NewSweeper(expr string, sweep SweepFunc) (*Sweeper, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("sweep schedule is empty")
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid sweep schedule %q", expr)
	}
	if sweep == nil {
		return nil, fmt.Errorf("sweep func is required")
	}
	return &Sweeper{
		expr:  expr,
		sweep: sweep,
		now:   time.Now,
		after: time.After,
	}, nil
}

// Next returns the first tick strictly after ref.
func (s *Sweeper) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, ref, false)
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	logger.InfoCF("memory", "Summary sweeper started", map[string]interface{}{"schedule": s.expr})
	for {
		next, err := s.Next(s.now())
		if err != nil {
			return fmt.Errorf("compute next sweep: %w", err)
		}
		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(wait):
		}
		s.runOnce(ctx)
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	n, err := s.sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.WarnCF("memory", "Summary sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if n > 0 {
		logger.InfoCF("memory", "Summary sweep compressed sessions", map[string]interface{}{"sessions": n})
	}
}
