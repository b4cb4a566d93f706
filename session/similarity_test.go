package session

import (
	"math"
	"testing"
	"time"
)

func pathSession(t *testing.T, rec *Recorder, id string, paths ...string) {
	t.Helper()
	s := &Session{
		ID:        id,
		StartTime: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	for i, p := range paths {
		s.Interactions = append(s.Interactions, testInteraction(int64(i+1), "GET", p, 200))
	}
	if err := rec.Store().Save(s); err != nil {
		t.Fatalf("Save(%s): %v", id, err)
	}
}

func TestFindSimilarSessions(t *testing.T) {
	rec := NewRecorder(newTestStore(t), DefaultSessionTimeout)
	// Duplicate paths collapse into the distinct-path set.
	pathSession(t, rec, "ref", "/a", "/a", "/b")
	pathSession(t, rec, "twin", "/b", "/a")
	pathSession(t, rec, "partial", "/a", "/x")
	pathSession(t, rec, "unrelated", "/c")

	got, err := rec.FindSimilarSessions("ref", 0.4)
	if err != nil {
		t.Fatalf("FindSimilarSessions: %v", err)
	}
	if len(got) != 1 || got[0].Session.ID != "twin" {
		t.Fatalf("matches above 0.4 = %+v, want only twin", got)
	}
	if got[0].Similarity != 1.0 {
		t.Errorf("twin similarity = %v, want 1.0", got[0].Similarity)
	}

	// Lowering the threshold admits the partial overlap, ranked below
	// the exact one. The reference session never matches itself.
	got, err = rec.FindSimilarSessions("ref", 0.3)
	if err != nil {
		t.Fatalf("FindSimilarSessions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matches above 0.3 = %+v, want twin then partial", got)
	}
	if got[0].Session.ID != "twin" || got[1].Session.ID != "partial" {
		t.Errorf("ranking = [%s, %s], want [twin, partial]", got[0].Session.ID, got[1].Session.ID)
	}
	if math.Abs(got[1].Similarity-1.0/3.0) > 1e-9 {
		t.Errorf("partial similarity = %v, want 1/3", got[1].Similarity)
	}
	for _, m := range got {
		if m.Session.ID == "ref" {
			t.Error("reference session matched itself")
		}
	}
}

func TestFindSimilarUnknownReference(t *testing.T) {
	rec := NewRecorder(newTestStore(t), DefaultSessionTimeout)
	got, err := rec.FindSimilarSessions("missing", 0.5)
	if got != nil || err != nil {
		t.Errorf("FindSimilarSessions(unknown) = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestJaccard(t *testing.T) {
	set := func(items ...string) map[string]struct{} {
		out := make(map[string]struct{}, len(items))
		for _, it := range items {
			out[it] = struct{}{}
		}
		return out
	}
	tests := []struct {
		name string
		a, b map[string]struct{}
		want float64
	}{
		{"identical", set("/a", "/b"), set("/a", "/b"), 1.0},
		{"disjoint", set("/a"), set("/b"), 0},
		{"both empty", set(), set(), 0},
		{"one empty", set("/a"), set(), 0},
		{"partial", set("/a", "/b"), set("/a", "/c"), 1.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Jaccard(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Jaccard = %v, want %v", got, tt.want)
			}
		})
	}
}
