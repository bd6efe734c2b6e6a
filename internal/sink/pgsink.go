package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/shortontech/surveyguard/internal/response"
)

// ErrBufferFull is returned by Enqueue while flushes are failing and the
// pending batch has reached its cap.
var ErrBufferFull = errors.New("postgres sink buffer full")

// ErrSinkClosed is returned by Enqueue once Close has been called.
var ErrSinkClosed = errors.New("postgres sink closed")

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

var pgColumns = []string{
	"response_id",
	"survey_id",
	"respondent_id",
	"score",
	"is_flagged",
	"flag_codes",
	"rules_version",
	"submitted_at",
	"scored_at",
	"payload",
}

// maxInsertRows keeps one multi-row INSERT within the 65535 bind
// parameters a Postgres statement accepts.
var maxInsertRows = 65535 / len(pgColumns)

// PGConfig holds configuration for the Postgres sink
type PGConfig struct {
	DSN       string
	Table     string
	BatchSize int
	FlushMS   int
	UseCopy   bool
	// MaxBuffer caps responses held while flushes fail. Zero means 20 batches.
	MaxBuffer int
}

// PGSink batches scored responses into Postgres, flushing when a batch
// fills or every FlushMS, whichever comes first.
type PGSink struct {
	config  PGConfig
	db      *sql.DB
	breaker *gobreaker.CircuitBreaker[struct{}]
	inst    instruments

	mu    sync.Mutex
	batch []response.ScoredResponse

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	closed  bool
}

// NewPGSinkFromEnv reads PG_DSN, PG_TABLE, PG_BATCH_SIZE, PG_FLUSH_MS and PG_COPY.
func NewPGSinkFromEnv(opts ...Option) *PGSink {
	return newPGSink(PGConfig{
		DSN:       getEnvOr("PG_DSN", "postgres://localhost:5432/surveyguard?sslmode=disable"),
		Table:     getEnvOr("PG_TABLE", "scored_responses"),
		BatchSize: getIntEnv("PG_BATCH_SIZE", 500),
		FlushMS:   getIntEnv("PG_FLUSH_MS", 500),
		UseCopy:   getBoolEnv("PG_COPY", false),
		MaxBuffer: getIntEnv("PG_MAX_BUFFER", 0),
	}, opts)
}

// NewPGSink creates a PGSink for dsn with default batching.
func NewPGSink(dsn string, opts ...Option) *PGSink {
	return newPGSink(PGConfig{
		DSN:       dsn,
		Table:     "scored_responses",
		BatchSize: 500,
		FlushMS:   500,
	}, opts)
}

func newPGSink(cfg PGConfig, opts []Option) *PGSink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushMS <= 0 {
		cfg.FlushMS = 500
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = cfg.BatchSize * 20
	}
	s := &PGSink{
		config: cfg,
		inst:   newInstruments("postgres", opts),
		batch:  make([]response.ScoredResponse, 0, cfg.BatchSize),
		done:   make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "postgres-sink",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.inst.log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return s
}

func validateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

func (s *PGSink) Start(ctx context.Context) error {
	if err := validateTableName(s.config.Table); err != nil {
		return err
	}

	db, err := sql.Open("postgres", s.config.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	if err := s.ensureSchema(); err != nil {
		db.Close()
		s.db = nil
		return err
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	go s.flushRoutine()

	s.inst.log.Info("postgres sink started",
		zap.String("table", s.config.Table),
		zap.Int("batch_size", s.config.BatchSize),
		zap.Int("flush_ms", s.config.FlushMS),
		zap.Bool("copy", s.config.UseCopy),
	)
	return nil
}

func (s *PGSink) ensureSchema() error {
	t := s.config.Table
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	response_id   TEXT PRIMARY KEY,
	survey_id     TEXT NOT NULL,
	respondent_id TEXT,
	score         DOUBLE PRECISION NOT NULL,
	is_flagged    BOOLEAN NOT NULL,
	flag_codes    TEXT[] NOT NULL DEFAULT '{}',
	rules_version TEXT NOT NULL,
	submitted_at  TIMESTAMPTZ,
	scored_at     TIMESTAMPTZ NOT NULL,
	payload       JSONB NOT NULL
)`, t)
	if _, err := s.db.ExecContext(s.ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t, err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_scored_at ON %s (scored_at)", t, t),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_survey_flagged ON %s (survey_id, is_flagged)", t, t),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_flag_codes ON %s USING GIN (flag_codes)", t, t),
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(s.ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", t, err)
		}
	}
	return nil
}

func (s *PGSink) Enqueue(r response.ScoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if len(s.batch) >= s.config.MaxBuffer {
		return ErrBufferFull
	}
	s.batch = append(s.batch, r)
	s.inst.metrics.SetQueueDepth(s.Name(), float64(len(s.batch)))

	if len(s.batch) >= s.config.BatchSize {
		if err := s.flushBatch(); err != nil {
			// Kept for the next flush; the response itself was accepted.
			s.inst.log.Warn("flush on full batch failed", zap.Int("pending", len(s.batch)), zap.Error(err))
		}
	}
	return nil
}

// chunkSize is the number of rows written per statement.
func (s *PGSink) chunkSize() int {
	return min(s.config.BatchSize, maxInsertRows)
}

// flushBatch writes the pending responses in chunks of at most chunkSize
// rows. Written chunks are dropped from the buffer; on failure the rest is
// kept for the next flush. The caller holds s.mu.
func (s *PGSink) flushBatch() error {
	if len(s.batch) == 0 {
		return nil
	}
	if s.db == nil {
		return errors.New("postgres sink not started")
	}

	start := time.Now()
	size := s.chunkSize()
	written := 0
	var err error
	for written < len(s.batch) {
		end := min(written+size, len(s.batch))
		chunk := s.batch[written:end]
		_, err = s.breaker.Execute(func() (struct{}, error) {
			if s.config.UseCopy {
				return struct{}{}, s.flushWithCopy(chunk)
			}
			return struct{}{}, s.flushWithInsert(chunk)
		})
		if err != nil {
			break
		}
		written = end
	}

	if written > 0 {
		s.batch = append(s.batch[:0], s.batch[written:]...)
		s.inst.metrics.ObserveBatchFlushLatency(s.Name(), time.Since(start))
		s.inst.log.Debug("batch flushed",
			zap.Int("rows", written),
			zap.Int("pending", len(s.batch)),
			zap.Duration("took", time.Since(start)),
		)
	}
	s.inst.metrics.SetQueueDepth(s.Name(), float64(len(s.batch)))

	if err != nil {
		errType := "flush"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			errType = "circuit_open"
		}
		s.inst.metrics.IncrementSinkErrors(s.Name(), errType)
		return err
	}
	return nil
}

type pgRow []any

func toRow(r response.ScoredResponse) (pgRow, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal response %s: %w", r.ResponseID, err)
	}
	var respondent, submitted any
	if r.RespondentID != "" {
		respondent = r.RespondentID
	}
	if r.SubmittedAt != "" {
		submitted = r.SubmittedAt
	}
	codes := r.FlagCodes
	if codes == nil {
		codes = []string{}
	}
	return pgRow{
		r.ResponseID,
		r.SurveyID,
		respondent,
		r.Score,
		r.IsFlagged,
		pq.Array(codes),
		r.RulesVersion,
		submitted,
		r.ScoredAt,
		string(payload),
	}, nil
}

// flushWithInsert writes rows as one multi-row INSERT. Responses already
// stored are skipped, so retried batches are idempotent.
func (s *PGSink) flushWithInsert(rows []response.ScoredResponse) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", s.config.Table, strings.Join(pgColumns, ", "))

	args := make([]any, 0, len(rows)*len(pgColumns))
	for i, r := range rows {
		row, err := toRow(r)
		if err != nil {
			return err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+j+1)
		}
		sb.WriteByte(')')
		args = append(args, row...)
	}
	sb.WriteString(" ON CONFLICT (response_id) DO NOTHING")

	if _, err := s.db.ExecContext(s.ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// flushWithCopy streams rows with COPY inside one transaction.
func (s *PGSink) flushWithCopy(rows []response.ScoredResponse) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(s.ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(s.ctx, pq.CopyIn(s.config.Table, pgColumns...))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, r := range rows {
		row, err := toRow(r)
		if err != nil {
			stmt.Close()
			return err
		}
		if _, err := stmt.ExecContext(s.ctx, row...); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy row %s: %w", r.ResponseID, err)
		}
	}
	if _, err := stmt.ExecContext(s.ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to finish copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit copy: %w", err)
	}
	return nil
}

func (s *PGSink) flushRoutine() {
	defer close(s.done)

	ticker := time.NewTicker(time.Duration(s.config.FlushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if err := s.flushBatch(); err != nil {
				s.inst.log.Warn("periodic flush failed", zap.Int("pending", len(s.batch)), zap.Error(err))
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the flush routine, writes whatever is pending and closes the
// connection pool.
func (s *PGSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	s.cancel()
	if s.running {
		<-s.done
		s.running = false
	}

	// The run context is cancelled; the final flush gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	s.ctx = ctx
	err := s.flushBatch()
	pending := len(s.batch)
	s.mu.Unlock()

	if err != nil {
		s.inst.log.Error("final flush failed", zap.Int("dropped", pending), zap.Error(err))
	}
	if cerr := s.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.db = nil
	return err
}

func (s *PGSink) Name() string { return "postgres" }
