package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/balatrollm/pkg/bot"
	"github.com/harun/balatrollm/pkg/game"
	"github.com/harun/balatrollm/pkg/llm"
	"github.com/harun/balatrollm/pkg/strategy"
	"github.com/harun/balatrollm/pkg/task"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	taskFile       = "task.json"
	strategyFile   = "strategy.json"
	requestsFile   = "requests.jsonl"
	responsesFile  = "responses.jsonl"
	gamestatesFile = "gamestates.jsonl"
	statsFile      = "stats.json"
	logFile        = "run.log"

	dirTimeLayout = "20060102_150405"
)

var errRunClosed = errors.New("run already finished")

// Options configures a Run.
type Options struct {
	BaseDir     string
	Version     string
	Manifest    *strategy.Manifest
	ModelConfig map[string]any
	Now         func() time.Time
}

// Run writes the artifacts of one task. It implements llm.AttemptObserver
// and bot.Recorder.
type Run struct {
	id          string
	dir         string
	task        task.Task
	modelConfig map[string]any
	now         func() time.Time

	mu           sync.Mutex
	closed       bool
	log          *os.File
	requestCount int
	acc          accumulator
	last         *game.Gamestate
	writeErr     error
}

// RunDir returns the directory a task would be written to at time t.
func RunDir(baseDir, version string, t task.Task, at time.Time) string {
	name := fmt.Sprintf("%s_%s_%s_%s", at.Format(dirTimeLayout), t.Deck, t.Stake, t.Seed)
	return filepath.Join(baseDir, "runs", "v"+version, t.Strategy, t.Vendor(), t.ModelName(), name)
}

// NewRun creates the run directory and writes task.json and strategy.json.
func NewRun(t task.Task, opts Options) (*Run, error) {
	if opts.Version == "" {
		return nil, fmt.Errorf("version is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if t.Vendor() == "" || t.ModelName() == "" {
		return nil, fmt.Errorf("invalid vendor/model format: %s", t.Model)
	}

	id, err := gonanoid.New(12)
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	dir := RunDir(opts.BaseDir, opts.Version, t, opts.Now())
	if _, err := os.Stat(dir); err == nil {
		dir = dir + "_" + id[:6]
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	r := &Run{
		id:          id,
		dir:         dir,
		task:        t,
		modelConfig: opts.ModelConfig,
		now:         opts.Now,
		acc:         newAccumulator(),
	}

	taskDoc := map[string]any{
		"run_id": id,
		"model": map[string]string{
			"vendor": t.Vendor(),
			"name":   t.ModelName(),
		},
		"seed":     t.Seed,
		"deck":     t.Deck,
		"stake":    t.Stake,
		"strategy": t.Strategy,
	}
	if err := writeJSONFile(filepath.Join(dir, taskFile), taskDoc); err != nil {
		return nil, err
	}
	if opts.Manifest != nil {
		if err := writeJSONFile(filepath.Join(dir, strategyFile), opts.Manifest); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(filepath.Join(dir, logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	r.log = f
	return r, nil
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Dir returns the run directory.
func (r *Run) Dir() string { return r.dir }

// LogWriter returns the writer behind run.log.
func (r *Run) LogWriter() io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			return len(p), nil
		}
		return r.log.Write(p)
	})
}

// RequestLine is one line of requests.jsonl.
type RequestLine struct {
	CustomID string         `json:"custom_id"`
	Method   string         `json:"method"`
	URL      string         `json:"url"`
	Body     map[string]any `json:"body"`
}

// ResponseLine is one line of responses.jsonl.
type ResponseLine struct {
	ID       string         `json:"id"`
	CustomID string         `json:"custom_id"`
	Response *ResponseBody  `json:"response"`
	Error    *ResponseError `json:"error"`
}

type ResponseBody struct {
	RequestID  string          `json:"request_id"`
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ObserveAttempt appends the request and its response or error.
func (r *Run) ObserveAttempt(_ context.Context, a llm.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.requestCount++
	customID := fmt.Sprintf("request-%05d", r.requestCount)
	r.appendLine(requestsFile, RequestLine{
		CustomID: customID,
		Method:   "POST",
		URL:      "/v1/chat/completions",
		Body:     a.Request.Body(r.modelConfig),
	})

	end := r.now()
	start := end.Add(-a.Duration)
	line := ResponseLine{
		ID:       fmt.Sprintf("%d", end.UnixMilli()),
		CustomID: customID,
	}

	switch a.Kind {
	case "":
		r.acc.calls.success++
	case llm.KindParse:
		r.acc.calls.error++
	default:
		r.acc.calls.failed++
	}

	if a.Response != nil {
		body := a.Response.Raw
		if len(body) == 0 {
			if b, err := json.Marshal(a.Response); err == nil {
				body = b
			}
		}
		line.Response = &ResponseBody{
			RequestID:  fmt.Sprintf("%d", start.UnixMilli()),
			StatusCode: 200,
			Body:       body,
		}
		r.acc.addResponse(a.Response, end.UnixMilli()-start.UnixMilli())
	}
	if a.Err != nil {
		line.Error = &ResponseError{Code: string(a.Kind), Message: a.Err.Error()}
	}
	r.appendLine(responsesFile, line)
}

// RecordGamestate appends a snapshot to gamestates.jsonl.
func (r *Run) RecordGamestate(gs *game.Gamestate) {
	if gs == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.recordGamestateLocked(gs)
}

// RecordStep appends the post-action snapshot of s.
func (r *Run) RecordStep(_ context.Context, s bot.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.last == nil && s.Before != nil {
		r.recordGamestateLocked(s.Before)
	}
	if s.After != nil {
		r.recordGamestateLocked(s.After)
	}
}

func (r *Run) recordGamestateLocked(gs *game.Gamestate) {
	r.last = gs
	if len(gs.Raw) > 0 {
		r.appendLine(gamestatesFile, gs.Raw)
		return
	}
	r.appendLine(gamestatesFile, map[string]any{
		"state":     gs.Phase.String(),
		"won":       gs.Won,
		"ante_num":  gs.Ante,
		"round_num": gs.Round,
	})
}

// Finish writes stats.json and closes the run. Later calls return an error.
func (r *Run) Finish(report bot.Report) (*Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errRunClosed
	}
	r.closed = true

	final := report.Final
	if final == nil {
		final = r.last
	}
	stats := r.acc.stats(final, string(report.Outcome))
	err := writeJSONFile(filepath.Join(r.dir, statsFile), stats)
	if cerr := r.log.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = r.writeErr
	}
	return stats, err
}

// appendLine writes v as one JSON line. The first error is kept for Finish.
func (r *Run) appendLine(name string, v any) {
	data, err := json.Marshal(v)
	if err == nil {
		var f *os.File
		f, err = os.OpenFile(filepath.Join(r.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			_, err = f.Write(append(data, '\n'))
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}
	}
	if err != nil && r.writeErr == nil {
		r.writeErr = fmt.Errorf("write %s: %w", name, err)
	}
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
