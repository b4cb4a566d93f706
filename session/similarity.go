package session

import (
	"log"
	"sort"
)

// SimilarSession pairs a persisted session with its similarity score
// against a reference session.
type SimilarSession struct {
	Session    *Session
	Similarity float64
}

// FindSimilarSessions ranks every other persisted session by the Jaccard
// similarity of distinct request paths against the reference session.
// Sessions scoring at or above threshold come back sorted by descending
// similarity (ties by id). The reference session never appears in its own
// results; an unknown reference id yields an empty result.
func (r *Recorder) FindSimilarSessions(id string, threshold float64) ([]SimilarSession, error) {
	ref := r.store.Load(id)
	if ref == nil {
		return nil, nil
	}
	all, warnings, err := r.store.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Printf("session: skipped %s during similarity scan: %s", w.Path, w.Err)
	}
	refPaths := ref.PathSet()
	var out []SimilarSession
	for _, other := range all {
		if other.ID == id {
			continue
		}
		score := Jaccard(refPaths, other.PathSet())
		if score >= threshold {
			out = append(out, SimilarSession{Session: other, Similarity: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity == out[j].Similarity {
			return out[i].Session.ID < out[j].Session.ID
		}
		return out[i].Similarity > out[j].Similarity
	})
	return out, nil
}

// Jaccard returns the intersection size over the union size of two path
// sets. Disjoint sets score 0; two empty sets also score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	intersection := 0
	for p := range a {
		if _, ok := b[p]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
