// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aggtree/services/scenario"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(id string, kind scenario.Kind, started time.Time, d time.Duration) *scenario.Result {
	return &scenario.Result{
		RunID:      id,
		Name:       string(kind) + "-" + id,
		Kind:       kind,
		StartedAt:  started,
		Duration:   d,
		Merges:     100,
		Consistent: true,
	}
}

func TestStore_SaveGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := result("r1", scenario.KindChain, now, time.Second)
	r.RootValue = 15050
	require.NoError(t, s.Save(ctx, r))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(15050), got.RootValue)
	assert.True(t, got.StartedAt.Equal(now))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Save(ctx, &scenario.Result{}), ErrMissingRunID)
	assert.ErrorIs(t, s.Save(ctx, nil), ErrMissingRunID)
}

func TestStore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.Save(ctx, result("r1", scenario.KindChain, now, time.Second)))
	require.NoError(t, s.Save(ctx, result("r1", scenario.KindChain, now.Add(time.Minute), 2*time.Second)))

	runs, err := s.List(ctx, scenario.KindChain, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2*time.Second, runs[0].Duration)
}

func TestStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, result(id, scenario.KindChain, base.Add(time.Duration(i)*time.Hour), time.Second)))
	}
	require.NoError(t, s.Save(ctx, result("d", scenario.KindRectangle, base.Add(90*time.Minute), time.Second)))

	runs, err := s.List(ctx, scenario.KindChain, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, ids(runs))

	runs, err = s.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, ids(runs))

	latest, err := s.Latest(ctx, scenario.KindRectangle)
	require.NoError(t, err)
	assert.Equal(t, "d", latest.RunID)

	_, err = s.Latest(ctx, scenario.KindRandomDAG)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Save(ctx, result("r1", scenario.KindChain, time.Now(), time.Second)))
	require.NoError(t, s.Delete(ctx, "r1"))
	assert.ErrorIs(t, s.Delete(ctx, "r1"), ErrNotFound)

	runs, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStore_Closed(t *testing.T) {
	ctx := context.Background()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Save(ctx, result("r1", scenario.KindChain, time.Now(), 0)), ErrClosed)
	_, err = s.Get(ctx, "r1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_CancelledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Save(ctx, result("r1", scenario.KindChain, time.Now(), 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, result("r1", scenario.KindChain, time.Now(), time.Second)))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, scenario.KindChain, got.Kind)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	now := time.Now()
	base := result("a", scenario.KindChain, now, 100*time.Millisecond)

	same := Compare(base, result("b", scenario.KindChain, now, 110*time.Millisecond), 0)
	assert.False(t, same.Regressed)
	assert.InDelta(t, 1.1, same.DurationRatio, 0.001)
	assert.Equal(t, int64(0), same.MergesDelta)

	slow := Compare(base, result("c", scenario.KindChain, now, 300*time.Millisecond), 2)
	assert.True(t, slow.Regressed)

	broken := result("d", scenario.KindChain, now, 50*time.Millisecond)
	broken.Consistent = false
	assert.True(t, Compare(base, broken, 0).Regressed)

	zero := Compare(result("e", scenario.KindChain, now, 0), base, 0)
	assert.Zero(t, zero.DurationRatio)
	assert.False(t, zero.Regressed)
}

func ids(runs []*scenario.Result) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.RunID
	}
	return out
}
