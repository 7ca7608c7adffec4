// Package promptloader resolves an agent's system prompt from disk,
// honoring a user-override directory and appending shared tool-usage
// instructions, with an fsnotify-backed cache so repeated turns don't
// re-read files that haven't changed.
package promptloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Loader resolves agent and shared prompt files. Reads are cached by
// resolved path and invalidated when the underlying file or its directory
// changes, so the hot path (every turn build in internal/runtime) never
// touches disk unless a prompt was actually edited.
type Loader struct {
	promptDir   string // directory containing the agent/shared prompt files shipped with the build
	overrideDir string // optional directory checked first, for user customization
	toolNotes   string // appended verbatim after the resolved prompt body

	mu      sync.RWMutex
	cache   map[string]string
	watcher *fsnotify.Watcher
}

// Option configures a Loader at construction time.
type Option func(*Loader)

// WithToolNotes sets the shared tool-usage instructions appended to every
// resolved prompt.
func WithToolNotes(notes string) Option {
	return func(l *Loader) { l.toolNotes = strings.TrimSpace(notes) }
}

// New creates a Loader. overrideDir may be empty to disable override
// precedence. Prompt files are watched for changes via fsnotify so the
// cache self-invalidates; if the watcher cannot be created (e.g. inotify
// limits exhausted) the Loader still works, just uncached.
func New(promptDir, overrideDir string, opts ...Option) (*Loader, error) {
	l := &Loader{
		promptDir:   promptDir,
		overrideDir: overrideDir,
		cache:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		l.watcher = watcher
		for _, dir := range []string{promptDir, overrideDir} {
			if dir == "" {
				continue
			}
			_ = watcher.Add(dir)
		}
		go l.watchLoop()
	}
	return l, nil
}

func (l *Loader) watchLoop() {
	for {
		select {
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.mu.Lock()
			delete(l.cache, filepath.Clean(ev.Name))
			l.mu.Unlock()
		case _, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the underlying file watcher, if one was started.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// Load resolves filename against overrideDir first, then promptDir, reads
// its content, and appends the configured tool notes. When neither location
// has the file the body is empty, so the result is just the tool notes (or
// "" when none are configured) with a nil error.
func (l *Loader) Load(filename string) (string, error) {
	path, err := l.resolve(filename)
	if err != nil {
		return "", err
	}
	if path == "" {
		return l.withNotes(""), nil
	}

	if cached, ok := l.cached(path); ok {
		return l.withNotes(cached), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l.withNotes(""), nil
		}
		return "", fmt.Errorf("promptloader: read %q: %w", path, err)
	}
	content := strings.TrimSpace(string(data))

	if l.watcher != nil {
		l.mu.Lock()
		l.cache[path] = content
		l.mu.Unlock()
	}

	return l.withNotes(content), nil
}

func (l *Loader) cached(path string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.cache[path]
	return v, ok
}

func (l *Loader) resolve(filename string) (string, error) {
	if filename == "" {
		return "", nil
	}
	if filepath.IsAbs(filename) {
		return filename, nil
	}
	if l.overrideDir != "" {
		candidate := filepath.Join(l.overrideDir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return filepath.Join(l.promptDir, filename), nil
}

func (l *Loader) withNotes(body string) string {
	if l.toolNotes == "" {
		return body
	}
	if body == "" {
		return l.toolNotes
	}
	return body + "\n\n" + l.toolNotes
}
