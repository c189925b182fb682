package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDirectoryManager_CreatesTreeAndInitialMetadata(t *testing.T) {
	base := t.TempDir()
	meta := RunMetadata{CorrelationID: "corr-1", PID: 123, Mode: "backtest", Capital: "1000", StartedAt: time.Now().UTC()}

	dm, err := NewDirectoryManager(base, "corr-1", 123, meta)
	require.NoError(t, err)

	assert.DirExists(t, dm.RootDir())
	assert.DirExists(t, dm.EventsDir())
	assert.Equal(t, filepath.Join(base, "corr-1", "123"), dm.RootDir())

	data, err := os.ReadFile(filepath.Join(dm.RootDir(), "run_metadata.json"))
	require.NoError(t, err)
	var got RunMetadata
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Nil(t, got.FinishedAt)
}

func TestWriteShutdownMetadata_UpdatesFinishedAtAndStatus(t *testing.T) {
	base := t.TempDir()
	dm, err := NewDirectoryManager(base, "corr-2", 456, RunMetadata{CorrelationID: "corr-2", PID: 456})
	require.NoError(t, err)

	finished := time.Now().UTC()
	require.NoError(t, dm.WriteShutdownMetadata(RunMetadata{
		CorrelationID: "corr-2", PID: 456, FinishedAt: &finished, ExitStatus: "ok",
	}))

	data, err := os.ReadFile(filepath.Join(dm.RootDir(), "run_metadata.json"))
	require.NoError(t, err)
	var got RunMetadata
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "ok", got.ExitStatus)
	require.NotNil(t, got.FinishedAt)
}

func TestComponentLogPath_IsUnderRunRoot(t *testing.T) {
	base := t.TempDir()
	dm, err := NewDirectoryManager(base, "corr-3", 789, RunMetadata{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dm.RootDir(), "engine.log"), dm.ComponentLogPath("engine"))
}
