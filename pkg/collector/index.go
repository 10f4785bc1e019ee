package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/balatrollm/pkg/bot"
	"github.com/harun/balatrollm/pkg/executor"
	_ "github.com/mattn/go-sqlite3"
)

// IndexFile is the database name inside the output directory.
const IndexFile = "runs.db"

// Entry is one indexed result.
type Entry struct {
	ID                int64
	TaskID            string
	Model             string
	Seed              string
	Deck              string
	Stake             string
	Strategy          string
	Outcome           string
	Reason            string
	Won               bool
	Steps             int
	DecisionCalls     int
	InvalidResponses  int
	ExecutionFailures int
	FinalAnte         int
	FinalRound        int
	Instance          string
	RunDir            string
	StartedAt         time.Time
	Duration          time.Duration
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Model    string
	Strategy string
	Outcome  string
	Limit    int
}

// Index stores finished results in sqlite. It implements executor.Sink.
type Index struct {
	db *sql.DB
}

var _ executor.Sink = (*Index)(nil)

// OpenIndex opens or creates dir/runs.db.
func OpenIndex(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, IndexFile)+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (i *Index) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			model TEXT NOT NULL,
			seed TEXT NOT NULL,
			deck TEXT NOT NULL,
			stake TEXT NOT NULL,
			strategy TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			won BOOLEAN NOT NULL DEFAULT 0,
			steps INTEGER NOT NULL DEFAULT 0,
			decision_calls INTEGER NOT NULL DEFAULT 0,
			invalid_responses INTEGER NOT NULL DEFAULT 0,
			execution_failures INTEGER NOT NULL DEFAULT 0,
			final_ante INTEGER NOT NULL DEFAULT 0,
			final_round INTEGER NOT NULL DEFAULT 0,
			instance TEXT NOT NULL DEFAULT '',
			run_dir TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_results_model ON results(model);
		CREATE INDEX IF NOT EXISTS idx_results_strategy ON results(strategy);
		CREATE INDEX IF NOT EXISTS idx_results_outcome ON results(outcome);
	`
	_, err := i.db.Exec(schema)
	return err
}

// Accept indexes a finished result. Skipped results are not stored.
func (i *Index) Accept(ctx context.Context, r executor.Result) error {
	if r.Report.Outcome == "" || r.Outcome() == bot.OutcomeSkipped {
		return nil
	}
	e := EntryFromResult(r)
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO results (
			task_id, model, seed, deck, stake, strategy, outcome, reason, won,
			steps, decision_calls, invalid_responses, execution_failures,
			final_ante, final_round, instance, run_dir, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.Model, e.Seed, e.Deck, e.Stake, e.Strategy, e.Outcome, e.Reason, e.Won,
		e.Steps, e.DecisionCalls, e.InvalidResponses, e.ExecutionFailures,
		e.FinalAnte, e.FinalRound, e.Instance, e.RunDir, e.StartedAt.UnixMilli(), e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("index result %s: %w", e.TaskID, err)
	}
	return nil
}

// EntryFromResult flattens an executor result.
func EntryFromResult(r executor.Result) Entry {
	e := Entry{
		TaskID:            r.Task.ID(),
		Model:             r.Task.Model,
		Seed:              r.Task.Seed,
		Deck:              r.Task.Deck,
		Stake:             r.Task.Stake,
		Strategy:          r.Task.Strategy,
		Outcome:           string(r.Report.Outcome),
		Reason:            r.Report.Reason,
		Won:               r.Report.Won(),
		Steps:             r.Report.Steps,
		DecisionCalls:     r.Report.DecisionCalls,
		InvalidResponses:  r.Report.InvalidResponses,
		ExecutionFailures: r.Report.ExecutionFailures,
		Instance:          r.Instance,
		RunDir:            r.RunDir,
		StartedAt:         r.Started,
		Duration:          r.Duration,
	}
	if f := r.Report.Final; f != nil {
		e.FinalAnte = f.Ante
		e.FinalRound = f.Round
	}
	return e
}

// List returns entries, newest first.
func (i *Index) List(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT id, task_id, model, seed, deck, stake, strategy, outcome, reason, won,
		steps, decision_calls, invalid_responses, execution_failures,
		final_ante, final_round, instance, run_dir, started_at, duration_ms
		FROM results WHERE 1=1`
	var args []any
	if f.Model != "" {
		query += " AND model = ?"
		args = append(args, f.Model)
	}
	if f.Strategy != "" {
		query += " AND strategy = ?"
		args = append(args, f.Strategy)
	}
	if f.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, f.Outcome)
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			startedMs int64
			durMs     int64
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Model, &e.Seed, &e.Deck, &e.Stake, &e.Strategy,
			&e.Outcome, &e.Reason, &e.Won, &e.Steps, &e.DecisionCalls, &e.InvalidResponses,
			&e.ExecutionFailures, &e.FinalAnte, &e.FinalRound, &e.Instance, &e.RunDir,
			&startedMs, &durMs); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		e.StartedAt = time.UnixMilli(startedMs)
		e.Duration = time.Duration(durMs) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (i *Index) Close() error {
	if i == nil || i.db == nil {
		return errors.New("index not open")
	}
	return i.db.Close()
}
