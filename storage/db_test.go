package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransactionCommitAndDiscard(t *testing.T) {
	db, err := NewMemDB()
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("a"), []byte("1")))
	got, err := tx.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	require.NoError(t, tx.Commit())

	got, err = db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)

	tx, err = db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("a"), []byte("2")))
	require.NoError(t, tx.Put([]byte("b"), []byte("3")))
	tx.Discard()

	got, err = db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	_, err = db.Get([]byte("b"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestTransactionDelete(t *testing.T) {
	db, err := NewMemDB()
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Put([]byte("k"), []byte("v")))

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Delete([]byte("k")))
	_, err = tx.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, tx.Commit())
	require.Error(t, tx.Commit())

	_, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
}
