package catalog_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbox-runner/toolbox/internal/catalog"
	"github.com/toolbox-runner/toolbox/internal/model"
)

type fakeLister struct {
	calls atomic.Int32
	delay time.Duration
	tools []model.Tool
	err   error
}

func (f *fakeLister) ListTools(ctx context.Context) ([]model.Tool, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	// Return a fresh slice so the catalog owns what it stores.
	out := make([]model.Tool, len(f.tools))
	copy(out, f.tools)
	return out, nil
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestRefreshReplacesWholesale(t *testing.T) {
	src := &fakeLister{tools: []model.Tool{
		{Name: "clip-raster", Parameters: map[string]model.Parameter{"buffer": {Type: model.ParamInteger}}},
		{Name: "variogram"},
	}}
	c := catalog.New(src, quiet())
	assert.Empty(t, c.Tools())
	assert.True(t, c.RefreshedAt().IsZero())

	c.Refresh(context.Background())
	require.Len(t, c.Tools(), 2)
	assert.NoError(t, c.Err())

	tool, ok := c.Lookup("clip-raster")
	require.True(t, ok)
	assert.Equal(t, "buffer", tool.Parameters["buffer"].Name, "names filled from map keys")

	src.tools = []model.Tool{{Name: "variogram"}}
	c.Refresh(context.Background())
	_, ok = c.Lookup("clip-raster")
	assert.False(t, ok)
}

func TestRefreshFailureEmptiesCatalog(t *testing.T) {
	src := &fakeLister{tools: []model.Tool{{Name: "clip-raster"}}}
	c := catalog.New(src, quiet())
	c.Refresh(context.Background())
	require.Len(t, c.Tools(), 1)

	src.err = errors.New("connection refused")
	c.Refresh(context.Background())
	assert.Empty(t, c.Tools())
	assert.EqualError(t, c.Err(), "connection refused")
	assert.False(t, c.RefreshedAt().IsZero())
}

func TestGetUnknownTool(t *testing.T) {
	c := catalog.New(&fakeLister{}, quiet())
	c.Refresh(context.Background())

	_, err := c.Get("nope")
	require.ErrorIs(t, err, catalog.ErrToolNotFound)
}

func TestConcurrentRefreshIsCoalesced(t *testing.T) {
	src := &fakeLister{delay: 50 * time.Millisecond, tools: []model.Tool{{Name: "a"}}}
	c := catalog.New(src, quiet())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Refresh(context.Background())
		}()
	}
	wg.Wait()

	assert.Less(t, src.calls.Load(), int32(8))
	assert.Len(t, c.Tools(), 1)
}

func TestRefreshIgnoresCallerCancellation(t *testing.T) {
	src := &ctxLister{}
	c := catalog.New(src, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Refresh(ctx)
	assert.NoError(t, src.seen)
}

type ctxLister struct{ seen error }

func (l *ctxLister) ListTools(ctx context.Context) ([]model.Tool, error) {
	l.seen = ctx.Err()
	return nil, nil
}
