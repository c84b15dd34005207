package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreBasics(t *testing.T) {
	t.Parallel()
	testStoreBasics(t, NewMemStore())
}

func TestDiskStoreBasics(t *testing.T) {
	t.Parallel()

	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	testStoreBasics(t, s)
}

func testStoreBasics(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "seg:ru:en:42", []byte("перевод")))
	data, err := s.Get(ctx, "seg:ru:en:42")
	require.NoError(t, err)
	assert.Equal(t, []byte("перевод"), data)

	// Overwrite replaces the previous value.
	require.NoError(t, s.Put(ctx, "seg:ru:en:42", []byte("translation")))
	data, err = s.Get(ctx, "seg:ru:en:42")
	require.NoError(t, err)
	assert.Equal(t, []byte("translation"), data)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, "seg:ru:en:42"))
	_, err = s.Get(ctx, "seg:ru:en:42")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is fine.
	assert.NoError(t, s.Delete(ctx, "seg:ru:en:42"))

	assert.NoError(t, s.HealthCheck(ctx))
}

func TestMemStoreFailureInjection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemStore()
	require.NoError(t, s.Put(ctx, "k", []byte("v")))

	boom := errors.New("disk on fire")
	s.FailNext(2, boom)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.HealthCheck(ctx), boom)

	// Failures exhausted; store recovers.
	data, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
}

func TestDiskStoreSurvivesExternalFileRemoval(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	s, err := NewDiskStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "doc:ocr:7", []byte("scanned page")))

	// Simulate an operator wiping the directory behind our back.
	fresh, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	_, err = fresh.Get(ctx, "doc:ocr:7")
	assert.ErrorIs(t, err, ErrNotFound)
}
