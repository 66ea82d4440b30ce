// Package registry keeps one classifier per modality alive for the lifetime
// of the process.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/radiolens/radiolens/internal/classify"
	"github.com/radiolens/radiolens/internal/modality"
)

// Factory constructs the classifier for a modality. It is called at most
// once per modality unless it fails.
type Factory func(ctx context.Context, m modality.Modality) (classify.Classifier, error)

// Registry lazily builds classifiers and hands out the same instance on
// every later call. Concurrent first requests for one modality share a
// single construction; populated entries are read without locking.
type Registry struct {
	factory Factory
	logger  *slog.Logger

	entries sync.Map // modality.Modality -> classify.Classifier
	group   singleflight.Group
}

// New creates an empty registry.
func New(factory Factory, logger *slog.Logger) *Registry {
	return &Registry{factory: factory, logger: logger}
}

// Get returns the cached classifier for m, constructing it on first use.
// A failed construction leaves nothing behind, so the next call retries.
// Construction is shared by every concurrent caller, so the factory gets a
// context without the triggering caller's cancellation. A caller whose own
// context ends stops waiting; the construction carries on for the others.
func (r *Registry) Get(ctx context.Context, m modality.Modality) (classify.Classifier, error) {
	if c, ok := r.entries.Load(m); ok {
		return c.(classify.Classifier), nil
	}

	buildCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(m.String(), func() (any, error) {
		if c, ok := r.entries.Load(m); ok {
			return c, nil
		}
		start := time.Now()
		c, err := r.factory(buildCtx, m)
		if err != nil {
			r.logger.Warn("model construction failed", "modality", m, "err", err)
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("registry: factory returned no classifier for %s", m)
		}
		r.entries.Store(m, c)
		r.logger.Info("model loaded", "modality", m, "elapsed", time.Since(start))
		return c, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(classify.Classifier), nil
	}
}

// Warm constructs the given modalities up front, in parallel.
func (r *Registry) Warm(ctx context.Context, mods ...modality.Modality) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range mods {
		g.Go(func() error {
			if _, err := r.Get(ctx, m); err != nil {
				return fmt.Errorf("warm %s: %w", m, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Loaded lists the modalities with a live classifier.
func (r *Registry) Loaded() []modality.Modality {
	var out []modality.Modality
	r.entries.Range(func(k, _ any) bool {
		out = append(out, k.(modality.Modality))
		return true
	})
	slices.Sort(out)
	return out
}

// Reset drops every cached classifier. Meant for tests and reconfiguration;
// callers holding an instance keep using it.
func (r *Registry) Reset() {
	r.entries.Range(func(k, _ any) bool {
		r.entries.Delete(k)
		return true
	})
}
