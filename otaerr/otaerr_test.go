package otaerr

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndKindOf(t *testing.T) {
	err := New(NotFound, "artifact missing")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, NotFound, kind)
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Validation))
}

func TestWrapPreservesCause(t *testing.T) {
	err := Wrap(StorageError, sql.ErrNoRows, "looking up row")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_ERROR")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(StorageError, nil, "no-op"))
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(sql.ErrNoRows)
	assert.False(t, ok)
}
