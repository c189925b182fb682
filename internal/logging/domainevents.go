package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/basistrade/engine/internal/domain/errorcode"
)

// EventKind names one events/<kind>.jsonl stream (spec §6, "Run artefacts").
type EventKind string

const (
	KindPosition          EventKind = "positions"
	KindExposure          EventKind = "exposures"
	KindRisk              EventKind = "risk_assessments"
	KindPnL               EventKind = "pnl_calculations"
	KindStrategyDecision  EventKind = "strategy_decisions"
	KindOperationExecution EventKind = "operation_executions"
	KindAtomicGroup       EventKind = "atomic_groups"
	KindTightLoop         EventKind = "tight_loop"
	KindReconciliation    EventKind = "reconciliation"
)

const defaultBufferLines = 256

// eventEnvelope wraps every emitted event with the fields invariant 5
// (spec §8) requires on every line: correlation_id, pid, timestamp,
// real_utc_time.
type eventEnvelope struct {
	CorrelationID string `json:"correlation_id"`
	PID           int    `json:"pid"`
	Timestamp     string `json:"timestamp"`
	RealUTCTime   string `json:"real_utc_time"`
	Kind          string `json:"kind"`
	Payload       any    `json:"payload"`
}

// stream owns one events/<kind>.jsonl file and a bounded line buffer.
// Emit writes into the buffer on the caller's goroutine under the stream's
// mutex; the buffer goes to disk once it holds defaultBufferLines lines, on
// flush, and on close. There is no background writer: the Emit that fills
// the buffer performs the disk write itself.
type stream struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	lines  int
}

func (s *stream) writeLine(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(b); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	s.lines++
	if s.lines >= defaultBufferLines {
		err := s.writer.Flush()
		s.lines = 0
		return err
	}
	return nil
}

func (s *stream) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = 0
	return s.writer.Flush()
}

func (s *stream) close() error {
	if err := s.flush(); err != nil {
		return err
	}
	return s.file.Close()
}

// DomainEventLogger is an append-only JSONL writer, one file per event kind
// under events/, with buffered writes flushed at buffer-full, tick
// boundary, and shutdown (spec §4.8).
type DomainEventLogger struct {
	mu            sync.RWMutex
	eventsDir     string
	correlationID string
	pid           int
	streams       map[EventKind]*stream
}

// NewDomainEventLogger constructs a logger writing under dm.EventsDir().
func NewDomainEventLogger(dm *DirectoryManager, correlationID string, pid int) *DomainEventLogger {
	return &DomainEventLogger{
		eventsDir:     dm.EventsDir(),
		correlationID: correlationID,
		pid:           pid,
		streams:       make(map[EventKind]*stream),
	}
}

func (l *DomainEventLogger) streamFor(kind EventKind) (*stream, error) {
	l.mu.RLock()
	s, ok := l.streams[kind]
	l.mu.RUnlock()
	if ok {
		return s, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.streams[kind]; ok {
		return s, nil
	}
	path := filepath.Join(l.eventsDir, string(kind)+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errorcode.Wrap(errorcode.LogWriteFailure, errorcode.Medium,
			"failed to open event stream file", err)
	}
	s = &stream{file: f, writer: bufio.NewWriter(f)}
	l.streams[kind] = s
	return s, nil
}

// Emit appends one event line to the kind's stream. A partial write on
// crash leaves previously-written lines intact; this line itself may be
// left half-written, which is tolerable (detectable via JSON parse error at
// tail) per spec §4.8.
func (l *DomainEventLogger) Emit(kind EventKind, engineTimestamp, realUTC string, payload any) error {
	s, err := l.streamFor(kind)
	if err != nil {
		return err
	}
	env := eventEnvelope{
		CorrelationID: l.correlationID,
		PID:           l.pid,
		Timestamp:     engineTimestamp,
		RealUTCTime:   realUTC,
		Kind:          string(kind),
		Payload:       payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return errorcode.Wrap(errorcode.LogWriteFailure, errorcode.Medium, "failed to marshal domain event", err)
	}
	return s.writeLine(b)
}

// FlushAll flushes every open stream; called at tick boundaries (spec §4.1
// "flushes logs") and at shutdown.
func (l *DomainEventLogger) FlushAll() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var firstErr error
	for _, s := range l.streams {
		if err := s.flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CloseAll flushes and closes every open stream, called at engine shutdown.
func (l *DomainEventLogger) CloseAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, s := range l.streams {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
