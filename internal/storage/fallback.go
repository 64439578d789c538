package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"safety-monitoring/internal/pipeline"
	"safety-monitoring/pkg/logger"
)

// FallbackLog is the degraded-mode append-only log: one JSON-lines file
// per day under dir. Events land here when the primary backend rejects
// a flush, so a write that reached the store is never lost.
type FallbackLog struct {
	dir string

	mu  sync.Mutex
	f   *os.File
	day string
}

func NewFallbackLog(dir string) (*FallbackLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fallback dir: %w", err)
	}
	return &FallbackLog{dir: dir}, nil
}

// Append writes the batch as flat JSON lines and syncs the file.
func (l *FallbackLog) Append(events []pipeline.Event) error {
	if len(events) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotate(time.Now()); err != nil {
		return err
	}
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal fallback event: %w", err)
		}
		if _, err := l.f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write fallback log: %w", err)
		}
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync fallback log: %w", err)
	}
	logger.Get().Infow("events written to fallback log", "count", len(events), "file", l.f.Name())
	return nil
}

// Path returns the file the next append would go to.
func (l *FallbackLog) Path() string {
	return filepath.Join(l.dir, "events_"+time.Now().Format("20060102")+".jsonl")
}

func (l *FallbackLog) rotate(now time.Time) error {
	day := now.Format("20060102")
	if l.f != nil && l.day == day {
		return nil
	}
	if l.f != nil {
		_ = l.f.Close()
	}
	name := filepath.Join(l.dir, "events_"+day+".jsonl")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open fallback log: %w", err)
	}
	l.f = f
	l.day = day
	return nil
}

func (l *FallbackLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
