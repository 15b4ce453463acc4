package lookup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/inodb/amlookup/internal/amerr"
)

// Gate publishes a Service once its table is fully loaded. Until then
// readers block in Wait or see Ready() == false. A Gate opens at most once.
type Gate struct {
	svc  atomic.Pointer[Service]
	err  error
	done chan struct{}
	once sync.Once
}

// NewGate creates a closed gate.
func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Publish opens the gate with svc. Its cache is flushed first so no result
// from an earlier snapshot survives.
func (g *Gate) Publish(svc *Service) {
	g.once.Do(func() {
		svc.Flush()
		g.svc.Store(svc)
		close(g.done)
	})
}

// Fail opens the gate with a load error. Wait returns err from then on.
func (g *Gate) Fail(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.done)
	})
}

// Ready reports whether a Service has been published.
func (g *Gate) Ready() bool {
	return g.svc.Load() != nil
}

// Err returns the load error passed to Fail, if the gate has opened.
func (g *Gate) Err() error {
	select {
	case <-g.done:
		return g.err
	default:
		return nil
	}
}

// Wait blocks until the gate opens or ctx is done. It returns
// amerr.ErrNotReady if ctx ends first.
func (g *Gate) Wait(ctx context.Context) (*Service, error) {
	select {
	case <-g.done:
		if g.err != nil {
			return nil, g.err
		}
		return g.svc.Load(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", amerr.ErrNotReady, ctx.Err())
	}
}
