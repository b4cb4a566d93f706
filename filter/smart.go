package filter

import (
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"shadowrunner/capture"
)

const (
	// Endpoints never count as noise before this many recorded samples.
	noiseSampleFloor = 50
	// GETs faster than this to dotted paths are treated as static fetches.
	staticLatencyCutoffMS = 10
	// Calibration excludes paths at this multiple of the average frequency.
	learnFrequencyFactor = 3.0

	// DefaultNoiseRatio is the traffic share above which an endpoint is
	// considered noise.
	DefaultNoiseRatio = 0.5
)

// SmartFilter layers adaptive noise detection over the static rule engine:
// an online frequency table catching endpoints that dominate traffic, plus
// fixed heuristics for static fetches and infrastructure probes.
type SmartFilter struct {
	*Engine

	mu         sync.Mutex
	counts     map[string]int64
	total      int64
	noiseRatio float64
}

// NewSmartFilter wraps engine with adaptive filtering. A noiseRatio outside
// (0, 1] falls back to DefaultNoiseRatio. A nil engine gets the stock rules.
func NewSmartFilter(engine *Engine, noiseRatio float64) *SmartFilter {
	if engine == nil {
		engine = NewDefaultEngine()
	}
	if noiseRatio <= 0 || noiseRatio > 1 {
		noiseRatio = DefaultNoiseRatio
	}
	return &SmartFilter{
		Engine:     engine,
		counts:     make(map[string]int64),
		noiseRatio: noiseRatio,
	}
}

// RecordInteraction counts ix in the frequency table. ShouldCapture calls
// this before any filtering, so the table reflects raw traffic rather than
// what survived the rules.
func (f *SmartFilter) RecordInteraction(ix *capture.CapturedInteraction) {
	if ix == nil || ix.Request == nil {
		return
	}
	f.mu.Lock()
	f.counts[ix.Request.Endpoint()]++
	f.total++
	f.mu.Unlock()
}

// IsNoise reports whether ix's endpoint dominates recorded traffic: its
// share must exceed the noise ratio, and at least noiseSampleFloor
// interactions must have been recorded overall.
func (f *SmartFilter) IsNoise(ix *capture.CapturedInteraction) bool {
	if ix == nil || ix.Request == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.total < noiseSampleFloor {
		return false
	}
	share := float64(f.counts[ix.Request.Endpoint()]) / float64(f.total)
	return share > f.noiseRatio
}

// ShouldCapture records ix, then applies the static rules followed by the
// adaptive checks.
func (f *SmartFilter) ShouldCapture(ix *capture.CapturedInteraction) bool {
	f.RecordInteraction(ix)
	if !f.Engine.ShouldCapture(ix) {
		return false
	}
	if isStaticFetch(ix) {
		return false
	}
	if isInfraProbe(ix) {
		return false
	}
	return !f.IsNoise(ix)
}

// TotalRecorded returns how many interactions the frequency table has seen.
func (f *SmartFilter) TotalRecorded() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// EndpointCounts returns a copy of the frequency table.
func (f *SmartFilter) EndpointCounts() map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out
}

// LearnFromInteractions is the offline calibration pass: it tallies path
// frequencies across the batch and installs an exclusion rule for every
// path at learnFrequencyFactor times the average or more. Returns the
// excluded paths, sorted. The online noise table is left untouched; the
// two mechanisms are deliberately separate.
func (f *SmartFilter) LearnFromInteractions(ixs []*capture.CapturedInteraction) []string {
	freq := make(map[string]int)
	n := 0
	for _, ix := range ixs {
		if ix == nil || ix.Request == nil {
			continue
		}
		freq[ix.Request.Path]++
		n++
	}
	if len(freq) == 0 {
		return nil
	}
	avg := float64(n) / float64(len(freq))
	var learned []string
	for p, count := range freq {
		if float64(count) >= learnFrequencyFactor*avg {
			learned = append(learned, p)
		}
	}
	sort.Strings(learned)
	for _, p := range learned {
		f.AddRule(LearnedExclusion(p))
	}
	return learned
}

// LearnedExclusion builds the exclusion rule for one exact path, named so
// that re-learning the same path replaces the previous rule.
func LearnedExclusion(p string) *Rule {
	return NewRule(
		"learned-exclude-"+ruleSlug(p),
		PriorityLearned,
		Exclude,
		mustPaths("^"+regexp.QuoteMeta(p)+"$"),
	)
}

// Sub-10ms GETs to dotted filenames are asset fetches even when no content
// type gives them away.
func isStaticFetch(ix *capture.CapturedInteraction) bool {
	if ix.Request == nil || ix.Response == nil {
		return false
	}
	if !strings.EqualFold(ix.Request.Method, "GET") {
		return false
	}
	if ix.Response.LatencyMS >= staticLatencyCutoffMS {
		return false
	}
	return strings.Contains(path.Base(ix.Request.Path), ".")
}

// A 5xx with an empty body is a probe or load-balancer check, not an
// application error worth a regression test.
func isInfraProbe(ix *capture.CapturedInteraction) bool {
	if ix.Response == nil {
		return false
	}
	return ix.Response.StatusCode >= 500 && ix.Response.StatusCode < 600 && ix.Response.Body == ""
}

func ruleSlug(p string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(p) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
