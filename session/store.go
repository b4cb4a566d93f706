package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Store persists sessions as JSON documents, one file per session id.
type Store struct {
	dir      string
	validate *validator.Validate
}

// NewStore creates the storage directory if needed. A leading tilde in dir
// expands to the user's home directory.
func NewStore(dir string) (*Store, error) {
	expanded, err := expandTilde(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(expanded, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Store{dir: expanded, validate: validator.New()}, nil
}

// Dir returns the storage directory.
func (st *Store) Dir() string {
	return st.dir
}

func (st *Store) path(id string) string {
	return filepath.Join(st.dir, id+".json")
}

// Save writes the session document to <dir>/<session_id>.json, flushing
// before close on every path.
func (st *Store) Save(sess *Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("cannot save a session without an id")
	}
	f, err := os.Create(st.path(sess.ID))
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ToDocument(sess)); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush session %s: %w", sess.ID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	return nil
}

// Load reads one persisted session. Unknown ids return nil; malformed
// documents are logged and also treated as absent.
func (st *Store) Load(id string) *Session {
	doc, err := st.readDocument(st.path(id))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("session: skipping unreadable session %s: %v", id, err)
		}
		return nil
	}
	return FromDocument(doc)
}

// LoadWarning records one file skipped during LoadAll.
type LoadWarning struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// LoadAll reads every persisted session. Unreadable files never fail the
// whole load; they come back as warnings so callers can decide whether
// partial data is acceptable. Sessions are ordered by start time.
func (st *Store) LoadAll() ([]*Session, []LoadWarning, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read session directory: %w", err)
	}
	var sessions []*Session
	var warnings []LoadWarning
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		p := filepath.Join(st.dir, entry.Name())
		doc, err := st.readDocument(p)
		if err != nil {
			warnings = append(warnings, LoadWarning{Path: p, Err: err.Error()})
			continue
		}
		sessions = append(sessions, FromDocument(doc))
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions, warnings, nil
}

// List returns the ids of every persisted session, sorted.
func (st *Store) List() ([]string, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a persisted session. Deleting an unknown id is a no-op.
func (st *Store) Delete(id string) error {
	if err := os.Remove(st.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func (st *Store) readDocument(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var doc Document
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode session document: %w", err)
	}
	if err := st.validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("invalid session document: %w", err)
	}
	return &doc, nil
}

func expandTilde(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
