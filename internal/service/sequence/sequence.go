// Package sequence hands out the store-wide message ids.
package sequence

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Generator returns strictly increasing ids, never zero.
type Generator interface {
	Next(ctx context.Context) (int64, error)
	// AdvanceTo makes every later Next return more than floor.
	AdvanceTo(ctx context.Context, floor int64) error
}

// MaxIDSource reports the highest id already handed out and stored.
type MaxIDSource interface {
	MaxID(ctx context.Context) (int64, error)
}

// Seed moves g past every id in src, so a counter that lost its state
// does not hand out stored ids again.
func Seed(ctx context.Context, g Generator, src MaxIDSource) (int64, error) {
	maxID, err := src.MaxID(ctx)
	if err != nil {
		return 0, fmt.Errorf("read max message id: %w", err)
	}
	if err := g.AdvanceTo(ctx, maxID); err != nil {
		return 0, fmt.Errorf("advance message id sequence: %w", err)
	}
	return maxID, nil
}

type Memory struct {
	last atomic.Int64
}

var _ Generator = (*Memory)(nil)

// NewMemory starts counting after start.
func NewMemory(start int64) *Memory {
	m := &Memory{}
	m.last.Store(start)
	return m
}

func (m *Memory) Next(context.Context) (int64, error) {
	return m.last.Add(1), nil
}

func (m *Memory) AdvanceTo(_ context.Context, floor int64) error {
	for {
		cur := m.last.Load()
		if cur >= floor || m.last.CompareAndSwap(cur, floor) {
			return nil
		}
	}
}
