package flash

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySinkHappyPath(t *testing.T) {
	s := NewMemorySink()
	require.NoError(t, s.Begin(4))
	require.NoError(t, s.Write([]byte("ab")))
	require.NoError(t, s.Write([]byte("cd")))
	require.NoError(t, s.Finalize(true))
	assert.Equal(t, []byte("abcd"), s.Data)
	assert.True(t, s.Committed())
	assert.False(t, s.HasError())
}

func TestMemorySinkAbortDiscardsCommit(t *testing.T) {
	s := NewMemorySink()
	require.NoError(t, s.Begin(4))
	require.NoError(t, s.Write([]byte("ab")))
	require.NoError(t, s.Abort())
	assert.False(t, s.Committed())
}

func TestMemorySinkWriteFailureSticks(t *testing.T) {
	s := NewMemorySink()
	require.NoError(t, s.Begin(4))
	s.FailOnWrite = errors.New("disk full")
	err := s.Write([]byte("ab"))
	require.Error(t, err)
	assert.True(t, s.HasError())

	// Once broken, further calls surface the same sticky error.
	err = s.Write([]byte("cd"))
	require.Error(t, err)
}

func TestMemorySinkWriteBeforeBegin(t *testing.T) {
	s := NewMemorySink()
	err := s.Write([]byte("ab"))
	require.Error(t, err)
}
