// Package promptstore loads the prompt documents that steer the pipeline:
// per-model activation and research documents, the fonts translation guide,
// and the validation rubrics. Documents live in a local directory and may be
// shadowed key-by-key in a JetStream KV bucket so operators can hot-swap any
// prompt without a redeploy. Lookups hit the shadow on every call.
package promptstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/nats-io/nats.go/jetstream"
)

// Well-known document keys.
const (
	// FontsGuideKey is the fonts translation guide substituted into
	// enhancement and validation prompts.
	FontsGuideKey = "guides/fonts.md"
)

// ActivationKey returns the activation-document key for an image model.
func ActivationKey(model string) string {
	return fmt.Sprintf("models/%s/activation.md", model)
}

// ResearchKey returns the deep-research document key for an image model.
func ResearchKey(model string) string {
	return fmt.Sprintf("models/%s/research.md", model)
}

// RubricKey returns the validation-rubric key for a task type.
func RubricKey(taskType string) string {
	return fmt.Sprintf("rubrics/%s.md", taskType)
}

// ErrNotFound is returned when a document exists in neither the shadow
// bucket nor the local directory.
var ErrNotFound = errors.New("prompt document not found")

// Store serves prompt documents.
type Store struct {
	dir    string
	kv     jetstream.KeyValue
	logger *slog.Logger

	mu      sync.RWMutex
	docs    map[string]string
	watcher *fsnotify.Watcher
}

// Option configures a Store.
type Option func(*Store)

// WithKV sets the JetStream KV bucket that shadows local documents.
func WithKV(kv jetstream.KeyValue) Option {
	return func(s *Store) {
		s.kv = kv
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store over the given document directory and loads every
// markdown document under it.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:    dir,
		logger: slog.Default(),
		docs:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("prompt directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("prompt path is not a directory: %s", dir)
	}

	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadAll discovers and loads every markdown document under the directory.
func (s *Store) loadAll() error {
	pattern := filepath.Join(s.dir, "**", "*.md")
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return fmt.Errorf("glob prompt documents: %w", err)
	}

	docs := make(map[string]string, len(matches))
	for _, path := range matches {
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Failed to read prompt document", "path", path, "error", err)
			continue
		}
		docs[filepath.ToSlash(rel)] = string(data)
	}

	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()

	s.logger.Info("Loaded prompt documents", "dir", s.dir, "count", len(docs))
	return nil
}

// Get returns the document for a key. The KV shadow wins over the local
// copy; the shadow is consulted on every call so updates apply immediately.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if s.kv != nil {
		entry, err := s.kv.Get(ctx, kvKey(key))
		if err == nil {
			return string(entry.Value()), nil
		}
		if !errors.Is(err, jetstream.ErrKeyNotFound) {
			s.logger.Warn("Prompt shadow lookup failed, using local copy",
				"key", key, "error", err)
		}
	}

	s.mu.RLock()
	doc, ok := s.docs[key]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return doc, nil
}

// GetOrEmpty returns the document or "" when absent. Used for optional
// documents like the fonts guide.
func (s *Store) GetOrEmpty(ctx context.Context, key string) string {
	doc, err := s.Get(ctx, key)
	if err != nil {
		return ""
	}
	return doc
}

// Watch reloads local documents when files change. Runs until ctx ends.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = watcher

	// fsnotify is not recursive; watch the root and each subdirectory.
	err = filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("watch prompt directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					s.handleChange(event)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Prompt watcher error", "error", err)
			}
		}
	}()

	return nil
}

// handleChange refreshes one document from disk, or drops it when removed.
func (s *Store) handleChange(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".md") {
		// A new subdirectory needs watching for its future documents.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && s.watcher != nil {
			_ = s.watcher.Add(event.Name)
		}
		return
	}

	rel, err := filepath.Rel(s.dir, event.Name)
	if err != nil {
		return
	}
	key := filepath.ToSlash(rel)

	data, err := os.ReadFile(event.Name)
	if err != nil {
		s.mu.Lock()
		delete(s.docs, key)
		s.mu.Unlock()
		s.logger.Info("Prompt document removed", "key", key)
		return
	}

	s.mu.Lock()
	s.docs[key] = string(data)
	s.mu.Unlock()
	s.logger.Info("Prompt document reloaded", "key", key)
}

// kvKey maps a document path to a valid KV key (dots for separators).
func kvKey(key string) string {
	k := strings.TrimSuffix(key, ".md")
	return strings.ReplaceAll(k, "/", ".")
}
