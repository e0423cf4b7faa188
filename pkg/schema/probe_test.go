package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProberDetectsNewGeneration(t *testing.T) {
	ctx := context.Background()
	f := hrFixture()
	c, _, err := builtCache(ctx, f)
	require.NoError(t, err)

	p := NewProber(c)

	// Same generation: nothing happens.
	p.run()
	before := f.queryCount()
	_, err = c.GetTable(ctx, "EMPLOYEES")
	require.NoError(t, err)
	assert.Equal(t, before, f.queryCount(), "served from memory")

	// The catalog moves underneath the process.
	f.mu.Lock()
	f.generation = f.generation.Add(time.Hour)
	f.mu.Unlock()
	p.run()

	// The schema is stale now; the next read refreshes.
	before = f.queryCount()
	_, err = c.GetTable(ctx, "EMPLOYEES")
	require.NoError(t, err)
	assert.Greater(t, f.queryCount(), before)
}

func TestProberStartStop(t *testing.T) {
	ctx := context.Background()
	c, _, err := builtCache(ctx, hrFixture())
	require.NoError(t, err)

	p := NewProber(c)
	require.NoError(t, p.Start())
	p.Stop()
}
