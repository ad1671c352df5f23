package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Well-known files under the storage root
const (
	RecordingFile = "recording.pcm"
	ResponseFile  = "response.wav"
)

// ErrOutsideRoot is returned for names that escape the storage root
var ErrOutsideRoot = errors.New("path escapes storage root")

// Mode selects how Open treats an existing file
type Mode int

const (
	ModeRead   Mode = iota // read only
	ModeWrite              // create or truncate
	ModeAppend             // create or append
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeAppend:
		return "append"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Store is a directory holding session files
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates the storage root if needed
func New(root string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	return &Store{root: abs, logger: logger}, nil
}

// Root returns the absolute storage root
func (s *Store) Root() string {
	return s.root
}

// Path resolves name inside the storage root
func (s *Store) Path(name string) (string, error) {
	cleaned := filepath.Clean("/" + filepath.ToSlash(name))
	if cleaned == "/" {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	}

	full := filepath.Join(s.root, filepath.FromSlash(cleaned))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	}
	return full, nil
}

// Open opens a file under the root
func (s *Store) Open(name string, mode Mode) (*os.File, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}

	var flags int
	switch mode {
	case ModeRead:
		flags = os.O_RDONLY
	case ModeWrite:
		flags = os.O_CREATE | os.O_TRUNC | os.O_RDWR
	case ModeAppend:
		flags = os.O_CREATE | os.O_APPEND | os.O_WRONLY
	default:
		return nil, fmt.Errorf("unknown open mode %v", mode)
	}

	if mode != ModeRead {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", name, err)
		}
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for %s: %w", name, mode, err)
	}
	return f, nil
}

// Remove deletes a file. A missing file is not an error.
func (s *Store) Remove(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// Size returns the file size in bytes
func (s *Store) Size(name string) (int64, error) {
	path, err := s.Path(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return info.Size(), nil
}

// Exists reports whether name is present
func (s *Store) Exists(name string) bool {
	path, err := s.Path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
