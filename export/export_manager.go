package export

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"shadowrunner/session"
)

// ExportVersion is the envelope format version written by this build.
const ExportVersion = "1.0"

// Envelope is the portable on-disk bundle: a version tag plus persisted
// session documents exactly as the store writes them.
type Envelope struct {
	Version    string              `json:"version"`
	ExportedAt time.Time           `json:"exported_at"`
	Sessions   []*session.Document `json:"sessions"`
}

// ImportResult reports one imported session. SessionID is the freshly
// minted id the session was saved under; OriginalID is the id carried in
// the bundle.
type ImportResult struct {
	OriginalID   string `json:"original_id"`
	SessionID    string `json:"session_id,omitempty"`
	Interactions int    `json:"interactions"`
	Error        string `json:"error,omitempty"`
}

// Options tune envelope serialization.
type Options struct {
	PrettyPrint bool
	Compress    bool
}

type ExportManager struct {
	store *session.Store
	opts  Options
}

func NewExportManager(store *session.Store, opts Options) *ExportManager {
	return &ExportManager{store: store, opts: opts}
}

// ExportSessions bundles the named sessions into outputPath. An empty id
// list exports every loadable session. Naming a session that does not
// exist is an error; skipping it silently would ship an incomplete bundle.
func (e *ExportManager) ExportSessions(ids []string, outputPath string) error {
	var sessions []*session.Session
	if len(ids) == 0 {
		all, warnings, err := e.store.LoadAll()
		if err != nil {
			return fmt.Errorf("failed to load sessions: %w", err)
		}
		for _, w := range warnings {
			log.Printf("export: skipping unreadable session file %s: %s", w.Path, w.Err)
		}
		sessions = all
	} else {
		for _, id := range ids {
			s := e.store.Load(id)
			if s == nil {
				return fmt.Errorf("session not found: %s", id)
			}
			sessions = append(sessions, s)
		}
	}

	envelope := Envelope{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		Sessions:   make([]*session.Document, 0, len(sessions)),
	}
	for _, s := range sessions {
		envelope.Sessions = append(envelope.Sessions, session.ToDocument(s))
	}

	return e.writeEnvelope(&envelope, outputPath)
}

// ImportSessions reads a bundle and saves each session under a freshly
// minted id so imports never collide with existing files. Sessions that
// fail to save are reported in their result and do not stop the rest of
// the bundle.
func (e *ExportManager) ImportSessions(inputPath string) ([]ImportResult, error) {
	envelope, err := e.readEnvelope(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read export data: %w", err)
	}

	if err := validateEnvelope(envelope); err != nil {
		return nil, fmt.Errorf("invalid export data: %w", err)
	}

	results := make([]ImportResult, 0, len(envelope.Sessions))
	for _, doc := range envelope.Sessions {
		result := ImportResult{
			OriginalID:   doc.SessionID,
			Interactions: len(doc.Interactions),
		}

		doc.SessionID = uuid.New().String()
		s := session.FromDocument(doc)
		if err := e.store.Save(s); err != nil {
			result.Error = err.Error()
		} else {
			result.SessionID = s.ID
		}
		results = append(results, result)
	}

	return results, nil
}

func (e *ExportManager) writeEnvelope(envelope *Envelope, outputPath string) error {
	var jsonData []byte
	var err error

	if e.opts.PrettyPrint {
		jsonData, err = json.MarshalIndent(envelope, "", "  ")
	} else {
		jsonData, err = json.Marshal(envelope)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal export data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	var writer io.Writer = file
	if e.opts.Compress && strings.HasSuffix(outputPath, ".gz") {
		gzWriter := gzip.NewWriter(file)
		defer gzWriter.Close()
		writer = gzWriter
	}

	if _, err := writer.Write(jsonData); err != nil {
		return fmt.Errorf("failed to write export data: %w", err)
	}

	return nil
}

func (e *ExportManager) readEnvelope(inputPath string) (*Envelope, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(inputPath, ".gz") {
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	}

	var envelope Envelope
	if err := json.NewDecoder(reader).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode export data: %w", err)
	}

	return &envelope, nil
}

func validateEnvelope(envelope *Envelope) error {
	if envelope.Version == "" {
		return fmt.Errorf("missing version field")
	}

	for i, doc := range envelope.Sessions {
		if doc == nil || doc.SessionID == "" {
			return fmt.Errorf("missing session id in session %d", i)
		}
		for j, ix := range doc.Interactions {
			if ix.ID == "" {
				return fmt.Errorf("missing interaction id in session %d interaction %d", i, j)
			}
		}
	}

	return nil
}
