// Package catalog holds the client's view of the tools the backend offers.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/toolbox-runner/toolbox/internal/model"
)

// ErrToolNotFound is returned by Get for names not in the current catalog.
var ErrToolNotFound = errors.New("catalog: tool not found")

// ToolLister fetches the full tool list from the backend.
type ToolLister interface {
	ListTools(ctx context.Context) ([]model.Tool, error)
}

// Catalog is a wholesale-refreshed snapshot of the backend's tools. It is
// safe for concurrent use.
type Catalog struct {
	src    ToolLister
	logger *slog.Logger
	group  singleflight.Group

	mu          sync.RWMutex
	tools       []model.Tool
	lastErr     error
	refreshedAt time.Time
}

// New creates an empty catalog backed by src.
func New(src ToolLister, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{src: src, logger: logger}
}

// Refresh replaces the catalog with the backend's current tool list. It never
// fails: on any error the catalog becomes empty and the error is logged and
// kept for Err. Concurrent calls share one request, so every waiter observes
// the same outcome. The request is detached from the first caller's
// cancellation for that reason.
func (c *Catalog) Refresh(ctx context.Context) {
	_, _, _ = c.group.Do("refresh", func() (any, error) {
		tools, err := c.src.ListTools(context.WithoutCancel(ctx))
		if err != nil {
			c.logger.Warn("catalog: refresh failed", "error", err)
			tools = nil
		}
		for i := range tools {
			tools[i].Normalize()
			if verr := tools[i].Validate(); verr != nil {
				c.logger.Warn("catalog: tool schema has problems", "tool", tools[i].Name, "error", verr)
			}
		}

		c.mu.Lock()
		c.tools = tools
		c.lastErr = err
		c.refreshedAt = time.Now()
		c.mu.Unlock()

		c.logger.Debug("catalog: refreshed", "tools", len(tools))
		return nil, nil
	})
}

// Tools returns the current snapshot.
func (c *Catalog) Tools() []model.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.tools)
}

// Lookup finds a tool by name in the current snapshot.
func (c *Catalog) Lookup(name string) (model.Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := slices.IndexFunc(c.tools, func(t model.Tool) bool { return t.Name == name })
	if i < 0 {
		return model.Tool{}, false
	}
	return c.tools[i], true
}

// Get is Lookup returning ErrToolNotFound for unknown names.
func (c *Catalog) Get(name string) (model.Tool, error) {
	t, ok := c.Lookup(name)
	if !ok {
		return model.Tool{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return t, nil
}

// Err returns the error of the most recent refresh, or nil.
func (c *Catalog) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// RefreshedAt returns when the catalog was last replaced. The zero time means
// it has never been refreshed.
func (c *Catalog) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}
