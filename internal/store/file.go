package store

// Package store provides the durable persistence layer: small JSON files for
// the gate set, PIN credential, and kill-switch record, plus a SQLite-backed
// history of decisions and approval transitions.

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/aeonsage/aeonsage/internal/auth"
	"github.com/aeonsage/aeonsage/internal/gate"
	"github.com/aeonsage/aeonsage/internal/killswitch"
)

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never observe a partial write.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// readJSONFile unmarshals a JSON file into out. Returns (false, nil) when the
// file does not exist.
func readJSONFile(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// ─── Gate store ───────────────────────────────────────────────────────────────

// FileGateStore persists the ordered gate list as a JSON array and can watch
// the file for external edits.
type FileGateStore struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewFileGateStore creates a gate store at the given path.
func NewFileGateStore(path string, logger *zap.Logger) *FileGateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileGateStore{path: path, logger: logger}
}

// LoadGates reads the persisted gate list; nil, nil when the file is absent.
func (s *FileGateStore) LoadGates(ctx context.Context) ([]*gate.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gates []*gate.Gate
	ok, err := readJSONFile(s.path, &gates)
	if err != nil || !ok {
		return nil, err
	}
	return gates, nil
}

// SaveGates writes the full ordered gate list.
func (s *FileGateStore) SaveGates(ctx context.Context, gates []*gate.Gate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(gates, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal gates: %w", err)
	}
	return writeFileAtomic(s.path, data, 0o644)
}

// Watch invokes onChange whenever the gates file is rewritten externally.
// It blocks until ctx is cancelled; callers run it in a goroutine.
func (s *FileGateStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic rename replaces the file node, so watching
	// the path directly would silently detach after the first save.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(s.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				s.logger.Debug("gates file changed", zap.String("op", ev.Op.String()))
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("gates file watch error", zap.Error(err))
		}
	}
}

// ─── PIN credential store ─────────────────────────────────────────────────────

// FilePinStore persists the single PIN credential record with owner-only
// permissions.
type FilePinStore struct {
	mu   sync.Mutex
	path string
}

// NewFilePinStore creates a credential store at the given path.
func NewFilePinStore(path string) *FilePinStore {
	return &FilePinStore{path: path}
}

// LoadCredential reads the stored credential; nil, nil when unset.
func (s *FilePinStore) LoadCredential(ctx context.Context) (*auth.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cred auth.Credential
	ok, err := readJSONFile(s.path, &cred)
	if err != nil || !ok {
		return nil, err
	}
	return &cred, nil
}

// SaveCredential writes the credential record with mode 0600.
func (s *FilePinStore) SaveCredential(ctx context.Context, cred *auth.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	return writeFileAtomic(s.path, data, 0o600)
}

// ClearCredential removes the stored credential. Missing file is not an error.
func (s *FilePinStore) ClearCredential(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}

// ─── Kill switch store ────────────────────────────────────────────────────────

// FileKillStateStore persists the kill-switch record.
type FileKillStateStore struct {
	mu   sync.Mutex
	path string
}

// NewFileKillStateStore creates a kill-switch store at the given path.
func NewFileKillStateStore(path string) *FileKillStateStore {
	return &FileKillStateStore{path: path}
}

// LoadState reads the persisted state; nil, nil when the file is absent.
func (s *FileKillStateStore) LoadState(ctx context.Context) (*killswitch.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state killswitch.State
	ok, err := readJSONFile(s.path, &state)
	if err != nil || !ok {
		return nil, err
	}
	return &state, nil
}

// SaveState writes the state record with mode 0600.
func (s *FileKillStateStore) SaveState(ctx context.Context, state *killswitch.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal kill switch state: %w", err)
	}
	return writeFileAtomic(s.path, data, 0o600)
}
