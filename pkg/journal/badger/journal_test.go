package badger

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/webhdfsfs/pkg/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	j, err := Open(ctx, Config{DBPath: dir})
	require.NoError(t, err)

	saved := journal.Entry{
		Token:   "6f1c2b9e-0000-4000-8000-000000000001",
		Path:    "/user/alice/report.csv",
		Kind:    journal.KindAppend,
		Offset:  1024,
		Data:    []byte("tail of the file"),
		Reason:  "TransientNetworkError: retries exhausted",
		SavedAt: time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, j.Save(ctx, saved))
	require.NoError(t, j.Close())

	j, err = Open(ctx, Config{DBPath: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	entries, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, saved.Token, got.Token)
	assert.Equal(t, saved.Path, got.Path)
	assert.Equal(t, journal.KindAppend, got.Kind)
	assert.Equal(t, int64(1024), got.Offset)
	assert.Equal(t, "tail of the file", string(got.Data))
	assert.True(t, saved.SavedAt.Equal(got.SavedAt))

	single, err := j.Get(ctx, saved.Token)
	require.NoError(t, err)
	assert.Equal(t, saved.Data, single.Data)
}

func TestJournalRemove(t *testing.T) {
	ctx := context.Background()
	j, err := Open(ctx, Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	for i, token := range []string{"t2", "t1", "t3"} {
		require.NoError(t, j.Save(ctx, journal.Entry{
			Token:   token,
			Path:    "/f",
			Kind:    journal.KindCreate,
			Data:    []byte(token),
			SavedAt: time.Unix(int64(1700000000+i), 0),
		}))
	}

	require.NoError(t, j.Remove(ctx, "t1"))
	require.NoError(t, j.Remove(ctx, "never-saved"))

	entries, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "t2", entries[0].Token)
	assert.Equal(t, "t3", entries[1].Token)

	_, err = j.Get(ctx, "t1")
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestJournalOverwrite(t *testing.T) {
	ctx := context.Background()
	j, err := Open(ctx, Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	require.NoError(t, j.Save(ctx, journal.Entry{Token: "t", Path: "/f", Kind: journal.KindCreate, Data: []byte("v1")}))
	require.NoError(t, j.Save(ctx, journal.Entry{Token: "t", Path: "/f", Kind: journal.KindCreate, Data: []byte("v2")}))

	entries, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v2", string(entries[0].Data))
}
