package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileProvider loads per-user keys from files in a directory.
//
// The key for user "u-123" is read from "<BasePath>/u-123". File permissions
// must be 0600 or 0400. With Watch set, any change in the directory drops
// the provider's cache.
type FileProvider struct {
	BasePath string
	Watch    bool

	mu      sync.RWMutex
	cache   map[string]string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	logger  *slog.Logger
}

// NewFileProvider creates a file-backed key provider.
func NewFileProvider(basePath string, watch bool) (*FileProvider, error) {
	p := &FileProvider{
		BasePath: basePath,
		Watch:    watch,
		cache:    make(map[string]string),
		stopCh:   make(chan struct{}),
		logger:   slog.Default().With("component", "secrets.file"),
	}

	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat key directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("key path is not a directory: %s", basePath)
	}

	if watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		if err := watcher.Add(basePath); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch directory: %w", err)
		}
		p.watcher = watcher
		go p.watchLoop()
	}

	p.logger.Info("file key provider started", "path", basePath, "watch", watch)
	return p, nil
}

// APIKey reads the user's key file.
func (p *FileProvider) APIKey(ctx context.Context, userID string) (string, error) {
	if !validUserFileName(userID) {
		return "", ErrNoKey
	}

	p.mu.RLock()
	if value, ok := p.cache[userID]; ok {
		p.mu.RUnlock()
		return value, nil
	}
	p.mu.RUnlock()

	path := filepath.Join(p.BasePath, userID)
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoKey
		}
		return "", fmt.Errorf("failed to stat key file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("key path is not a regular file: %s", userID)
	}

	mode := info.Mode().Perm()
	if mode != 0600 && mode != 0400 {
		return "", fmt.Errorf("insecure permissions on %s: %o (expected 0600 or 0400)", path, mode)
	}

	// #nosec G304 - userID is checked to be a plain file name
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", ErrNoKey
	}

	p.mu.Lock()
	p.cache[userID] = value
	p.mu.Unlock()

	return value, nil
}

// Provider returns the provider name.
func (p *FileProvider) Provider() string {
	return "file"
}

// Refresh clears the cache, forcing keys to be re-read from files.
func (p *FileProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]string)
	return nil
}

// Close stops the file watcher.
func (p *FileProvider) Close() error {
	if p.watcher != nil {
		close(p.stopCh)
		return p.watcher.Close()
	}
	return nil
}

func (p *FileProvider) watchLoop() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			p.logger.Debug("key file change detected",
				"file", filepath.Base(event.Name),
				"op", event.Op.String(),
			)
			_ = p.Refresh(context.Background())

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("file watcher error", "error", err)

		case <-p.stopCh:
			return
		}
	}
}

func validUserFileName(userID string) bool {
	if userID == "" || userID == "." || userID == ".." || strings.HasPrefix(userID, ".") {
		return false
	}
	return !strings.ContainsAny(userID, `/\`) && filepath.Base(userID) == userID
}
