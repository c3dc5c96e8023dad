// Package syncq keeps requests that could not reach the API so they can be
// replayed later under their original idempotency key.
package syncq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Command struct {
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	QueuedAt       time.Time       `json:"queued_at"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
}

type Queue struct {
	mu   sync.Mutex
	path string
}

// Open uses queue.json inside dir.
func Open(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Queue{path: filepath.Join(dir, "queue.json")}, nil
}

func (q *Queue) Load() ([]Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

func (q *Queue) load() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) save(commands []Command) error {
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

// Push appends cmd unless a command with the same key is already queued.
func (q *Queue) Push(cmd Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	commands, err := q.load()
	if err != nil {
		return err
	}
	for _, c := range commands {
		if c.IdempotencyKey == cmd.IdempotencyKey {
			return nil
		}
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	return q.save(append(commands, cmd))
}

type ReplayReport struct {
	Sent    int
	Dropped int
	Kept    int
}

// Replay sends queued commands in order. A command stays queued when send
// fails and retry reports the error as transient; other failures drop it.
func (q *Queue) Replay(ctx context.Context, send func(context.Context, Command) error, retry func(error) bool) (ReplayReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var report ReplayReport
	commands, err := q.load()
	if err != nil {
		return report, err
	}
	kept := make([]Command, 0, len(commands))
	for i, cmd := range commands {
		if ctx.Err() != nil {
			kept = append(kept, commands[i:]...)
			break
		}
		err := send(ctx, cmd)
		switch {
		case err == nil:
			report.Sent++
		case retry(err):
			cmd.Attempts++
			cmd.LastError = err.Error()
			kept = append(kept, cmd)
		default:
			report.Dropped++
		}
	}
	report.Kept = len(kept)
	return report, q.save(kept)
}
