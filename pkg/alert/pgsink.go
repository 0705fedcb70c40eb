package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/config"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/detect"
)

const (
	pgBatchSize     = 50
	pgFlushInterval = 2 * time.Second
	pgQueueSize     = 10000
	pgWriteTimeout  = 10 * time.Second
)

// Schema statements run one at a time; the pgx extended protocol does
// not accept multi-statement Exec calls.
var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS attack_notifications (
	id          TEXT PRIMARY KEY,
	sender_id   TEXT NOT NULL,
	attack_type TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	msg_count   INTEGER NOT NULL,
	first_seen  TIMESTAMPTZ NOT NULL,
	last_seen   TIMESTAMPTZ NOT NULL,
	message     TEXT NOT NULL,
	samples     JSONB,
	indicators  JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_attack_notifications_sender
	ON attack_notifications (sender_id, last_seen DESC)`,
}

const pgInsert = `
INSERT INTO attack_notifications (
	id, sender_id, attack_type, confidence, msg_count,
	first_seen, last_seen, message, samples, indicators
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING`

// PGConfig holds connection settings for the postgres sink.
type PGConfig struct {
	DSN           string
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

// PGSink persists notifications to PostgreSQL in batches. Enqueue only
// appends to an in-memory queue; a background writer flushes it on a
// size or interval trigger, so a slow database never backs up into the
// dispatcher. Inserts are idempotent on notification ID.
type PGSink struct {
	config PGConfig
	db     *sql.DB
	queue  chan detect.AttackNotification
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	// Stats
	written uint64
	dropped uint64
	batches uint64
}

// NewPGSinkFromEnv creates a PGSink from environment variables.
func NewPGSinkFromEnv() *PGSink {
	return NewPGSink(PGConfig{
		DSN:           config.GetEnv("BTIDS_PG_DSN", "postgres://localhost:5432/btids?sslmode=disable"),
		BatchSize:     config.GetEnvInt("BTIDS_PG_BATCH_SIZE", pgBatchSize),
		FlushInterval: config.GetEnvDurationMs("BTIDS_PG_FLUSH_MS", pgFlushInterval),
		QueueSize:     config.GetEnvInt("BTIDS_PG_QUEUE_SIZE", pgQueueSize),
	})
}

// NewPGSink creates a PGSink with explicit configuration.
func NewPGSink(cfg PGConfig) *PGSink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = pgBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = pgFlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = pgQueueSize
	}
	return &PGSink{
		config: cfg,
		queue:  make(chan detect.AttackNotification, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

func (s *PGSink) Start(ctx context.Context) error {
	db, err := sql.Open("pgx", s.config.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("postgres ping: %w", err)
	}

	return s.startWithDB(ctx, db)
}

// startWithDB finishes startup on an established handle. Split out so
// tests can substitute a mock database.
func (s *PGSink) startWithDB(ctx context.Context, db *sql.DB) error {
	for _, stmt := range pgSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	s.db = db

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.writerLoop()
	return nil
}

// Enqueue queues a notification for batch writing.
func (s *PGSink) Enqueue(n detect.AttackNotification) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return fmt.Errorf("postgres sink not started")
	}

	select {
	case s.queue <- n:
		return nil
	default:
		if dropped := atomic.AddUint64(&s.dropped, 1); dropped%1000 == 1 {
			log.Printf("[WARN] postgres queue full, %d notifications dropped", dropped)
		}
		return fmt.Errorf("postgres queue full")
	}
}

// Stats returns writer statistics.
func (s *PGSink) Stats() map[string]interface{} {
	return map[string]interface{}{
		"written":   atomic.LoadUint64(&s.written),
		"dropped":   atomic.LoadUint64(&s.dropped),
		"batches":   atomic.LoadUint64(&s.batches),
		"queue_len": len(s.queue),
		"queue_cap": cap(s.queue),
	}
}

func (s *PGSink) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	err := s.db.Close()
	log.Printf("[INFO] postgres sink stopped (written=%d, dropped=%d, batches=%d)",
		atomic.LoadUint64(&s.written), atomic.LoadUint64(&s.dropped), atomic.LoadUint64(&s.batches))
	return err
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) writerLoop() {
	defer s.wg.Done()

	batch := make([]detect.AttackNotification, 0, s.config.BatchSize)
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case n := <-s.queue:
			batch = append(batch, n)
			if len(batch) >= s.config.BatchSize {
				s.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.writeBatch(batch)
				batch = batch[:0]
			}

		case <-s.done:
			// Flush remaining notifications without blocking on new ones.
			for {
				select {
				case n := <-s.queue:
					batch = append(batch, n)
					if len(batch) >= s.config.BatchSize {
						s.writeBatch(batch)
						batch = batch[:0]
					}
				default:
					if len(batch) > 0 {
						s.writeBatch(batch)
					}
					return
				}
			}
		}
	}
}

func (s *PGSink) writeBatch(batch []detect.AttackNotification) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pgWriteTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("[WARN] postgres begin transaction: %v", err)
		return
	}
	defer tx.Rollback()

	written := 0
	for _, n := range batch {
		if s.writeNotification(ctx, tx, n) {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[WARN] postgres commit batch: %v", err)
		return
	}

	atomic.AddUint64(&s.written, uint64(written))
	atomic.AddUint64(&s.batches, 1)
}

func (s *PGSink) writeNotification(ctx context.Context, tx *sql.Tx, n detect.AttackNotification) bool {
	samples, err := json.Marshal(n.Samples)
	if err != nil {
		samples = []byte("[]")
	}
	indicators, err := json.Marshal(n.Indicators)
	if err != nil {
		indicators = []byte("[]")
	}

	_, err = tx.ExecContext(ctx, pgInsert,
		n.ID,
		n.SenderID,
		string(n.AttackType),
		n.Confidence,
		n.Count,
		n.FirstSeen,
		n.LastSeen,
		n.Message,
		samples,
		indicators,
	)
	if err != nil {
		log.Printf("[WARN] postgres insert notification %s: %v", n.ID, err)
		return false
	}
	return true
}
