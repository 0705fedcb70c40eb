// Package audit persists analysis verdicts to ClickHouse for offline
// review and rule tuning. Recording is optional: with no ClickHouse
// address configured the gateway simply runs without an audit trail,
// and a slow or absent database never blocks the detection path.
package audit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/config"
	"github.com/EzzYounis/BluetoothChatAppWithAI-assetedIDS/pkg/detect"
)

const (
	auditBatchSize     = 100
	auditFlushInterval = 3 * time.Second
	auditQueueSize     = 10000
	auditWriteTimeout  = 15 * time.Second
)

// Verdict metadata only; message content never reaches the audit trail.
const verdictsSchema = `
CREATE TABLE IF NOT EXISTS analysis_verdicts (
	timestamp     DateTime64(3),
	sender_id     String,
	attack_type   String,
	confidence    Float64,
	source        String,
	attack_score  Float64,
	is_attack     Bool,
	should_notify Bool,
	indicators    Array(String)
) ENGINE = MergeTree()
ORDER BY (sender_id, timestamp)
PARTITION BY toYYYYMM(timestamp)`

const verdictsInsert = `INSERT INTO analysis_verdicts`

// Config holds ClickHouse connection and batching settings.
type Config struct {
	Addr          string
	Database      string
	Username      string
	Password      string
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

// LoadConfig reads audit settings from environment variables. An empty
// address means auditing is disabled.
func LoadConfig() Config {
	return Config{
		Addr:          config.GetEnv("BTIDS_CLICKHOUSE_ADDR", ""),
		Database:      config.GetEnv("BTIDS_CLICKHOUSE_DB", "btids"),
		Username:      config.GetEnv("BTIDS_CLICKHOUSE_USER", "default"),
		Password:      config.GetEnv("BTIDS_CLICKHOUSE_PASSWORD", ""),
		BatchSize:     config.GetEnvInt("BTIDS_AUDIT_BATCH_SIZE", auditBatchSize),
		FlushInterval: config.GetEnvDurationMs("BTIDS_AUDIT_FLUSH_MS", auditFlushInterval),
		QueueSize:     config.GetEnvInt("BTIDS_AUDIT_QUEUE_SIZE", auditQueueSize),
	}
}

// Enabled reports whether an audit destination is configured.
func (c Config) Enabled() bool { return c.Addr != "" }

type flushFunc func(ctx context.Context, rows []detect.AnalysisResult) error

// Recorder buffers verdicts in memory and writes them to ClickHouse in
// batches, flushing on a size or interval trigger.
type Recorder struct {
	cfg   Config
	conn  driver.Conn
	flush flushFunc
	queue chan detect.AnalysisResult
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	running bool

	// Stats
	written uint64
	dropped uint64
	batches uint64
}

// NewRecorder creates a Recorder with the given configuration.
func NewRecorder(cfg Config) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = auditBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = auditFlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = auditQueueSize
	}
	return &Recorder{
		cfg:   cfg,
		queue: make(chan detect.AnalysisResult, cfg.QueueSize),
		done:  make(chan struct{}),
	}
}

// Start connects to ClickHouse, ensures the verdict table exists, and
// launches the background writer.
func (r *Recorder) Start(ctx context.Context) error {
	if !r.cfg.Enabled() {
		return fmt.Errorf("audit recorder requires BTIDS_CLICKHOUSE_ADDR")
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{r.cfg.Addr},
		Auth: clickhouse.Auth{
			Database: r.cfg.Database,
			Username: r.cfg.Username,
			Password: r.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := conn.Exec(ctx, verdictsSchema); err != nil {
		conn.Close()
		return fmt.Errorf("failed to create verdict table: %w", err)
	}

	log.Printf("[STARTUP] audit trail connected to ClickHouse at %s", r.cfg.Addr)
	r.conn = conn
	r.start(r.sendBatch)
	return nil
}

// start launches the writer loop with the given flush function. Split
// out so tests can substitute the ClickHouse round trip.
func (r *Recorder) start(flush flushFunc) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.flush = flush
	r.wg.Add(1)
	go r.writerLoop()
}

// Record queues a verdict for the audit trail. It never blocks; when
// the queue is full the verdict is dropped and counted.
func (r *Recorder) Record(res detect.AnalysisResult) {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		atomic.AddUint64(&r.dropped, 1)
		return
	}

	select {
	case r.queue <- res:
	default:
		if dropped := atomic.AddUint64(&r.dropped, 1); dropped%1000 == 1 {
			log.Printf("[WARN] audit queue full, %d verdicts dropped", dropped)
		}
	}
}

// Stats returns writer statistics.
func (r *Recorder) Stats() map[string]uint64 {
	return map[string]uint64{
		"written": atomic.LoadUint64(&r.written),
		"dropped": atomic.LoadUint64(&r.dropped),
		"batches": atomic.LoadUint64(&r.batches),
	}
}

// Close flushes buffered verdicts and releases the connection.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()

	var err error
	if r.conn != nil {
		err = r.conn.Close()
	}
	log.Printf("[INFO] audit recorder stopped (written=%d, dropped=%d, batches=%d)",
		atomic.LoadUint64(&r.written), atomic.LoadUint64(&r.dropped), atomic.LoadUint64(&r.batches))
	return err
}

func (r *Recorder) writerLoop() {
	defer r.wg.Done()

	batch := make([]detect.AnalysisResult, 0, r.cfg.BatchSize)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		if err := r.flush(ctx, batch); err != nil {
			log.Printf("[WARN] audit flush of %d verdicts failed: %v", len(batch), err)
		} else {
			atomic.AddUint64(&r.written, uint64(len(batch)))
			atomic.AddUint64(&r.batches, 1)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case res := <-r.queue:
			batch = append(batch, res)
			if len(batch) >= r.cfg.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-r.done:
			// Drain whatever is still queued, then final flush.
			for {
				select {
				case res := <-r.queue:
					batch = append(batch, res)
					if len(batch) >= r.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *Recorder) sendBatch(ctx context.Context, rows []detect.AnalysisResult) error {
	batch, err := r.conn.PrepareBatch(ctx, verdictsInsert)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, res := range rows {
		indicators := res.Indicators
		if indicators == nil {
			indicators = []string{}
		}
		err := batch.Append(
			res.Timestamp,
			res.SenderID,
			string(res.AttackType),
			res.Confidence,
			string(res.Source),
			res.AttackScore,
			res.IsAttack,
			res.ShouldNotify,
			indicators,
		)
		if err != nil {
			batch.Abort()
			return fmt.Errorf("append verdict: %w", err)
		}
	}

	return batch.Send()
}
