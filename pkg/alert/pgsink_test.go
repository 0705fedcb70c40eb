package alert

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// newStartedPGSink wires the sink to a mock database with the schema
// expectations already registered.
func newStartedPGSink(t *testing.T, cfg PGConfig) (*PGSink, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS attack_notifications").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_attack_notifications_sender").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPGSink(cfg)
	if err := s.startWithDB(context.Background(), db); err != nil {
		t.Fatalf("startWithDB failed: %v", err)
	}
	return s, mock
}

func waitForExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mock.ExpectationsWereMet() == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expectations not met in time: %v", mock.ExpectationsWereMet())
}

func TestPGSinkFlushesAtBatchSize(t *testing.T) {
	// FlushInterval is huge so only the batch-size trigger can fire.
	s, mock := newStartedPGSink(t, PGConfig{
		DSN:           "unused",
		BatchSize:     2,
		FlushInterval: time.Hour,
		QueueSize:     16,
	})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO attack_notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO attack_notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.Enqueue(testNotification("pg-1")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.Enqueue(testNotification("pg-2")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitForExpectations(t, mock)

	stats := s.Stats()
	if stats["written"] != uint64(2) {
		t.Errorf("written = %v, want 2", stats["written"])
	}
	if stats["batches"] != uint64(1) {
		t.Errorf("batches = %v, want 1", stats["batches"])
	}

	mock.ExpectClose()
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations after close: %v", err)
	}
}

func TestPGSinkFlushesOnClose(t *testing.T) {
	s, mock := newStartedPGSink(t, PGConfig{
		DSN:           "unused",
		BatchSize:     50,
		FlushInterval: time.Hour,
		QueueSize:     16,
	})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO attack_notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	if err := s.Enqueue(testNotification("pg-close-1")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
	if stats := s.Stats(); stats["written"] != uint64(1) {
		t.Errorf("written = %v, want 1", stats["written"])
	}
}

func TestPGSinkInsertArguments(t *testing.T) {
	s, mock := newStartedPGSink(t, PGConfig{
		DSN:           "unused",
		BatchSize:     1,
		FlushInterval: time.Hour,
		QueueSize:     4,
	})

	note := testNotification("pg-args-1")
	samples, _ := json.Marshal(note.Samples)
	indicators, _ := json.Marshal(note.Indicators)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO attack_notifications").
		WithArgs(
			note.ID,
			note.SenderID,
			string(note.AttackType),
			note.Confidence,
			note.Count,
			note.FirstSeen,
			note.LastSeen,
			note.Message,
			samples,
			indicators,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.Enqueue(note); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitForExpectations(t, mock)

	mock.ExpectClose()
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestPGSinkCommitFailureKeepsRunning(t *testing.T) {
	s, mock := newStartedPGSink(t, PGConfig{
		DSN:           "unused",
		BatchSize:     1,
		FlushInterval: time.Hour,
		QueueSize:     4,
	})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO attack_notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(context.DeadlineExceeded)

	if err := s.Enqueue(testNotification("pg-fail-1")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitForExpectations(t, mock)

	// A failed batch is not counted as written, and the sink still accepts work.
	if stats := s.Stats(); stats["written"] != uint64(0) {
		t.Errorf("written = %v, want 0 after commit failure", stats["written"])
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO attack_notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.Enqueue(testNotification("pg-fail-2")); err != nil {
		t.Fatalf("Enqueue after failed batch: %v", err)
	}
	waitForExpectations(t, mock)

	mock.ExpectClose()
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestPGSinkEnqueueBeforeStart(t *testing.T) {
	s := NewPGSink(PGConfig{DSN: "unused"})
	if err := s.Enqueue(testNotification("early")); err == nil {
		t.Fatal("expected error before Start")
	}
}

func TestPGSinkQueueOverflow(t *testing.T) {
	s := NewPGSink(PGConfig{DSN: "unused", QueueSize: 1})
	s.running = true // no writer loop, so the queue cannot drain

	if err := s.Enqueue(testNotification("fill")); err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}
	if err := s.Enqueue(testNotification("spill")); err == nil {
		t.Fatal("expected overflow error")
	}
	if stats := s.Stats(); stats["dropped"] != uint64(1) {
		t.Errorf("dropped = %v, want 1", stats["dropped"])
	}
}

func TestNewPGSinkDefaults(t *testing.T) {
	s := NewPGSink(PGConfig{DSN: "unused"})
	if s.config.BatchSize != pgBatchSize {
		t.Errorf("BatchSize = %d, want %d", s.config.BatchSize, pgBatchSize)
	}
	if s.config.FlushInterval != pgFlushInterval {
		t.Errorf("FlushInterval = %v, want %v", s.config.FlushInterval, pgFlushInterval)
	}
	if cap(s.queue) != pgQueueSize {
		t.Errorf("queue capacity = %d, want %d", cap(s.queue), pgQueueSize)
	}
	if s.Name() != "postgres" {
		t.Errorf("Name() = %q, want postgres", s.Name())
	}
}
