package journal

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBeginClearRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")

	j, pending, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.Empty(t, pending)

	id, err := j.Begin("spawn echo.service")
	require.NoError(t, err)
	require.NoError(t, j.Clear(id))
	require.NoError(t, j.Close())

	j2, pending2, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.Empty(t, pending2)
	require.NoError(t, j2.Close())
}

func TestUnclearedFrameSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")

	j, _, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	id, err := j.Begin("state transition echo.service")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j2, pending, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, id, pending[0].ID)
	require.Equal(t, "state transition echo.service", pending[0].Label)
	require.NoError(t, j2.Close())
}

func TestMultipleFramesOnlyUnclearedPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")

	j, _, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	a, err := j.Begin("a")
	require.NoError(t, err)
	b, err := j.Begin("b")
	require.NoError(t, err)
	require.NoError(t, j.Clear(a))
	require.NoError(t, j.Close())

	_, pending, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, b, pending[0].ID)
}

func TestFrameIDsMonotonicAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")

	j, _, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	first, err := j.Begin("a")
	require.NoError(t, err)
	require.NoError(t, j.Clear(first))
	require.NoError(t, j.Close())

	j2, _, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	second, err := j2.Begin("b")
	require.NoError(t, err)
	require.Greater(t, second, first)
	require.NoError(t, j2.Close())
}
