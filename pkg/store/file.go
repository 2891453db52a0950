package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	DefaultFileName = "transfers.json"
)

// FileStore keeps every transfer in one JSON file, rewritten atomically on change
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	docs     map[string]json.RawMessage
}

// fileLayout represents the JSON structure on disk
type fileLayout struct {
	Transfers map[string]json.RawMessage `json:"transfers"`
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens the store in dir, creating nothing until the first write
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".fundswap")
	}

	s := &FileStore{
		filePath: filepath.Join(dir, DefaultFileName),
		docs:     make(map[string]json.RawMessage),
	}

	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load transfers: %w", err)
		}
	}
	return s, nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var layout fileLayout
	if err := json.Unmarshal(data, &layout); err != nil {
		return fmt.Errorf("failed to unmarshal transfers: %w", err)
	}

	s.docs = layout.Transfers
	if s.docs == nil {
		s.docs = make(map[string]json.RawMessage)
	}
	return nil
}

// flush writes the documents to disk. Callers hold s.mu.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(fileLayout{Transfers: s.docs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transfers: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// write to a temporary file first, then rename for an atomic replace
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write transfers: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (s *FileStore) Put(_ context.Context, id string, doc []byte) error {
	if id == "" {
		return fmt.Errorf("transfer id is required")
	}
	if !json.Valid(doc) {
		return fmt.Errorf("transfer %s: document is not valid JSON", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.docs[id]
	s.docs[id] = append(json.RawMessage(nil), doc...)
	if err := s.flush(); err != nil {
		if existed {
			s.docs[id] = prev
		} else {
			delete(s.docs, id)
		}
		return err
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]byte(nil), doc...), nil
}

func (s *FileStore) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.docs, id)
	if err := s.flush(); err != nil {
		s.docs[id] = doc
		return err
	}
	return nil
}

// Path returns the storage file path
func (s *FileStore) Path() string {
	return s.filePath
}
