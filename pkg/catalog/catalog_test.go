// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// ============================================================
// Session Lifecycle Tests
// ============================================================

func TestCatalog_StartEndSession(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	started := time.Date(2025, 3, 2, 1, 2, 3, 0, time.UTC)

	s := Session{
		ID:        "3b0f6f4e-0000-4000-8000-000000000001",
		Path:      "/tmp/2025_03_02_01_02_03.bin",
		Shell:     "/dev/twinkiev2-0",
		Snooper:   "/dev/twinkiev2-1",
		StartedAt: started,
	}
	require.NoError(t, c.StartSession(ctx, s))

	got, err := c.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Open())
	assert.Equal(t, s.Path, got.Path)
	assert.True(t, got.StartedAt.Equal(started))

	s.EndedAt = started.Add(90 * time.Second)
	s.Records = 1200
	s.Invalid = 3
	s.Dropped = 7
	require.NoError(t, c.EndSession(ctx, s))

	got, err = c.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, got.Open())
	assert.Equal(t, uint64(1200), got.Records)
	assert.Equal(t, uint64(3), got.Invalid)
	assert.Equal(t, uint64(7), got.Dropped)
	assert.Equal(t, 90*time.Second, got.Duration())
}

func TestCatalog_EndUnknownSession(t *testing.T) {
	c := openTestCatalog(t)
	err := c.EndSession(context.Background(), Session{ID: "missing", EndedAt: time.Now()})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = c.Session(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCatalog_DuplicateID(t *testing.T) {
	c := openTestCatalog(t)
	s := Session{ID: "dup", Path: "a.bin", StartedAt: time.Now()}
	require.NoError(t, c.StartSession(context.Background(), s))
	assert.Error(t, c.StartSession(context.Background(), s))
}

func TestCatalog_ListSessions(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, c.StartSession(ctx, Session{
			ID:        id,
			Path:      id + ".bin",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := c.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].ID, "newest first")
	assert.Equal(t, "first", all[2].ID)

	limited, err := c.ListSessions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCatalog_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.StartSession(context.Background(), Session{ID: "kept", Path: "k.bin", StartedAt: time.Now()}))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	sessions, err := c.ListSessions(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
