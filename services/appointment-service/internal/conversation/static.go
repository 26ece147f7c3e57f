package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"
)

// Static is an in-memory Lookup for tests and STORE_DRIVER=memory.
type Static struct {
	mu    sync.RWMutex
	convs map[string]Conversation
}

func NewStatic(convs ...Conversation) *Static {
	s := &Static{}
	s.Replace(convs)
	return s
}

// LoadStaticFile reads a seed file holding a list of conversations, as JSON
// or, for .yaml/.yml files, YAML with the same field names.
func LoadStaticFile(path string) (*Static, error) {
	convs, err := readSeed(path)
	if err != nil {
		return nil, err
	}
	return NewStatic(convs...), nil
}

func readSeed(path string) ([]Conversation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conversations seed: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var v any
		if err := yaml.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("parse conversations seed: %w", err)
		}
		if raw, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("parse conversations seed: %w", err)
		}
	}
	var convs []Conversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		return nil, fmt.Errorf("parse conversations seed: %w", err)
	}
	return convs, nil
}

// Replace swaps the whole table.
func (s *Static) Replace(convs []Conversation) {
	m := make(map[string]Conversation, len(convs))
	for _, c := range convs {
		m[c.ID] = c
	}
	s.mu.Lock()
	s.convs = m
	s.mu.Unlock()
}

func (s *Static) Put(c Conversation) {
	s.mu.Lock()
	s.convs[c.ID] = c
	s.mu.Unlock()
}

func (s *Static) Get(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

// Watch reloads the table whenever the seed file changes, until ctx is done.
// A file that fails to parse keeps the previous table.
func (s *Static) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// Watch the directory: editors often replace the file rather than write it.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	file := filepath.Base(path)

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) == file && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload = time.After(200 * time.Millisecond)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("conversations seed watch error", "err", err)
		case <-reload:
			reload = nil
			convs, err := readSeed(path)
			if err != nil {
				logger.Warn("conversations seed reload failed", "path", path, "err", err)
				continue
			}
			s.Replace(convs)
			logger.Info("conversations seed reloaded", "path", path, "count", len(convs))
		}
	}
}
