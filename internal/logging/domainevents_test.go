package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *DomainEventLogger {
	t.Helper()
	base := t.TempDir()
	dm, err := NewDirectoryManager(base, "corr", os.Getpid(), RunMetadata{})
	require.NoError(t, err)
	return NewDomainEventLogger(dm, "corr", os.Getpid())
}

func TestEmit_WritesWellFormedJSONLine(t *testing.T) {
	l := newTestLogger(t)
	require.NoError(t, l.Emit(KindPosition, "2026-01-01T00:00:00Z", "2026-01-01T00:00:01Z", map[string]any{"foo": "bar"}))
	require.NoError(t, l.FlushAll())

	path := filepath.Join(l.eventsDir, string(KindPosition)+".jsonl")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var env eventEnvelope
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
	assert.Equal(t, "corr", env.CorrelationID)
	assert.Equal(t, string(KindPosition), env.Kind)
}

func TestEmit_SeparatesStreamsByKind(t *testing.T) {
	l := newTestLogger(t)
	require.NoError(t, l.Emit(KindRisk, "t", "u", nil))
	require.NoError(t, l.Emit(KindPnL, "t", "u", nil))
	require.NoError(t, l.FlushAll())

	assert.FileExists(t, filepath.Join(l.eventsDir, "risk_assessments.jsonl"))
	assert.FileExists(t, filepath.Join(l.eventsDir, "pnl_calculations.jsonl"))
}

func TestEmit_MultipleLinesAreEachValidJSON(t *testing.T) {
	l := newTestLogger(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Emit(KindTightLoop, "t", "u", map[string]int{"i": i}))
	}
	require.NoError(t, l.FlushAll())

	path := filepath.Join(l.eventsDir, string(KindTightLoop)+".jsonl")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var env eventEnvelope
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
		count++
	}
	assert.Equal(t, 5, count)
}

func TestCloseAll_FlushesAndClosesUnderlyingFiles(t *testing.T) {
	l := newTestLogger(t)
	require.NoError(t, l.Emit(KindAtomicGroup, "t", "u", nil))
	require.NoError(t, l.CloseAll())

	path := filepath.Join(l.eventsDir, string(KindAtomicGroup)+".jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
