package export

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shadowrunner/capture"
	"shadowrunner/session"
)

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	st, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return st
}

func bundleSession(t *testing.T, st *session.Store, id string, paths ...string) *session.Session {
	t.Helper()
	start := time.Date(2025, 5, 20, 8, 30, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	s := &session.Session{
		ID:        id,
		UserID:    "exporter",
		StartTime: start,
		EndTime:   &end,
		Metadata:  map[string]string{"origin": "test"},
		Tags:      []string{"bundle"},
	}
	for i, p := range paths {
		s.Interactions = append(s.Interactions, &capture.CapturedInteraction{
			ID:             id + "-ix-" + p,
			SequenceNumber: int64(i + 1),
			SessionID:      id,
			Request: &capture.CapturedRequest{
				Method:    "GET",
				Path:      p,
				URL:       "http://svc.local" + p,
				Headers:   map[string]string{"Accept": "application/json"},
				Timestamp: start.Add(time.Duration(i) * time.Second),
				Protocol:  capture.ProtocolHTTP,
			},
			Response: &capture.CapturedResponse{
				StatusCode: 200,
				Body:       `{"ok":true}`,
				LatencyMS:  15,
			},
		})
	}
	if err := st.Save(s); err != nil {
		t.Fatalf("Save(%s): %v", id, err)
	}
	return s
}

func TestExportImportRoundTrip(t *testing.T) {
	source := newTestStore(t)
	bundleSession(t, source, "sess-a", "/a", "/b")
	bundleSession(t, source, "sess-b", "/c")

	path := filepath.Join(t.TempDir(), "bundle.json")
	if err := NewExportManager(source, Options{PrettyPrint: true}).ExportSessions(nil, path); err != nil {
		t.Fatalf("ExportSessions: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("bundle is not valid JSON: %v", err)
	}
	if envelope.Version != ExportVersion {
		t.Errorf("version = %q, want %q", envelope.Version, ExportVersion)
	}
	if len(envelope.Sessions) != 2 {
		t.Fatalf("bundle holds %d sessions, want 2", len(envelope.Sessions))
	}
	if !bytes.Contains(raw, []byte("\n  ")) {
		t.Error("pretty-printed bundle has no indentation")
	}

	target := newTestStore(t)
	results, err := NewExportManager(target, Options{}).ImportSessions(path)
	if err != nil {
		t.Fatalf("ImportSessions: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d import results, want 2", len(results))
	}
	for _, r := range results {
		if r.Error != "" {
			t.Fatalf("import of %s failed: %s", r.OriginalID, r.Error)
		}
		if r.SessionID == "" || r.SessionID == r.OriginalID {
			t.Errorf("import of %s must mint a fresh id, got %q", r.OriginalID, r.SessionID)
		}

		imported := target.Load(r.SessionID)
		if imported == nil {
			t.Fatalf("imported session %s not loadable", r.SessionID)
		}
		original := source.Load(r.OriginalID)
		if len(imported.Interactions) != len(original.Interactions) {
			t.Errorf("%s: %d interactions, want %d", r.OriginalID, len(imported.Interactions), len(original.Interactions))
		}
		if imported.UserID != original.UserID || !imported.StartTime.Equal(original.StartTime) {
			t.Errorf("%s: session content not preserved", r.OriginalID)
		}
		for i, ix := range imported.Interactions {
			if ix.SessionID != r.SessionID {
				t.Errorf("%s: interaction %d still points at %q", r.OriginalID, i, ix.SessionID)
			}
			want := original.Interactions[i]
			if ix.ID != want.ID || ix.SequenceNumber != want.SequenceNumber || ix.Request.Path != want.Request.Path {
				t.Errorf("%s: interaction %d content differs", r.OriginalID, i)
			}
		}
	}
}

func TestExportNamedSessions(t *testing.T) {
	st := newTestStore(t)
	bundleSession(t, st, "keep-me", "/a")
	bundleSession(t, st, "not-me", "/b")
	mgr := NewExportManager(st, Options{})

	path := filepath.Join(t.TempDir(), "one.json")
	if err := mgr.ExportSessions([]string{"keep-me"}, path); err != nil {
		t.Fatalf("ExportSessions: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(envelope.Sessions) != 1 || envelope.Sessions[0].SessionID != "keep-me" {
		t.Errorf("bundle = %+v, want only keep-me", envelope.Sessions)
	}

	if err := mgr.ExportSessions([]string{"missing"}, path); err == nil {
		t.Error("exporting an unknown session id should fail")
	}
}

func TestExportGzip(t *testing.T) {
	source := newTestStore(t)
	bundleSession(t, source, "zipped", "/a")

	path := filepath.Join(t.TempDir(), "bundle.json.gz")
	if err := NewExportManager(source, Options{Compress: true}).ExportSessions(nil, path); err != nil {
		t.Fatalf("ExportSessions: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		t.Fatal("output does not look gzip-compressed")
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	var envelope Envelope
	if err := json.NewDecoder(gz).Decode(&envelope); err != nil {
		t.Fatalf("decoding compressed bundle: %v", err)
	}
	if len(envelope.Sessions) != 1 {
		t.Errorf("compressed bundle holds %d sessions, want 1", len(envelope.Sessions))
	}

	target := newTestStore(t)
	results, err := NewExportManager(target, Options{}).ImportSessions(path)
	if err != nil {
		t.Fatalf("ImportSessions from gzip: %v", err)
	}
	if len(results) != 1 || results[0].Error != "" {
		t.Errorf("results = %+v", results)
	}
}

func TestImportRejectsBadEnvelopes(t *testing.T) {
	st := newTestStore(t)
	mgr := NewExportManager(st, Options{})
	dir := t.TempDir()

	junk := filepath.Join(dir, "junk.json")
	if err := os.WriteFile(junk, []byte("not json at all"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := mgr.ImportSessions(junk); err == nil {
		t.Error("importing malformed JSON should fail")
	}

	unversioned := filepath.Join(dir, "unversioned.json")
	if err := os.WriteFile(unversioned, []byte(`{"sessions":[]}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := mgr.ImportSessions(unversioned); err == nil {
		t.Error("importing an envelope without a version should fail")
	}

	if _, err := mgr.ImportSessions(filepath.Join(dir, "absent.json")); err == nil {
		t.Error("importing a missing file should fail")
	}
}
