package testgen

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"shadowrunner/capture"
)

// GroupStrategy selects how captured interactions fold into tests.
type GroupStrategy string

const (
	// GroupNone emits one test per interaction.
	GroupNone GroupStrategy = "none"
	// GroupEndpoint folds interactions sharing a method+path into one
	// multi-step test.
	GroupEndpoint GroupStrategy = "endpoint"
	// GroupSession folds interactions sharing a session id into one
	// multi-step test.
	GroupSession GroupStrategy = "session"
)

// ParseGroupStrategy maps a CLI/config string onto a strategy.
func ParseGroupStrategy(s string) (GroupStrategy, error) {
	switch strategy := GroupStrategy(strings.ToLower(strings.TrimSpace(s))); strategy {
	case GroupNone, GroupEndpoint, GroupSession:
		return strategy, nil
	default:
		return "", fmt.Errorf("unknown grouping strategy %q", s)
	}
}

// FrameworkPlaywright is the only built-in emission target.
const FrameworkPlaywright = "playwright"

const (
	maxStepHeaders      = 5
	maxJSONKeyChecks    = 3
	defaultMaxBodyBytes = 4096
)

// Metadata records how a test was produced.
type Metadata struct {
	Strategy         GroupStrategy `json:"strategy"`
	InteractionCount int           `json:"interaction_count"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

// GeneratedTest is one synthesized test: source text plus the traffic it
// was derived from and a human-readable account of what it asserts.
type GeneratedTest struct {
	Name         string                         `json:"name"`
	Description  string                         `json:"description"`
	SourceCode   string                         `json:"source_code"`
	Interactions []*capture.CapturedInteraction `json:"interactions,omitempty"`
	Assertions   []string                       `json:"assertions"`
	Metadata     Metadata                       `json:"metadata"`
}

// Options tune a Generator.
type Options struct {
	// Framework names the emission target; empty means playwright.
	Framework string
	// BaseURL, when set, replaces the captured origin so generated tests
	// can point at a different deployment.
	BaseURL string
	// MaxBodyBytes caps emitted request bodies. Zero or less uses the
	// default cap.
	MaxBodyBytes int
}

// Generator turns captured interactions into test sources.
type Generator struct {
	framework string
	baseURL   string
	maxBody   int
}

func NewGenerator(opts Options) (*Generator, error) {
	framework := opts.Framework
	if framework == "" {
		framework = FrameworkPlaywright
	}
	if framework != FrameworkPlaywright {
		return nil, fmt.Errorf("unsupported test framework %q", framework)
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Generator{framework: framework, baseURL: opts.BaseURL, maxBody: maxBody}, nil
}

// Generate synthesizes tests from a traffic batch. Within a multi-step
// test, steps always follow ascending sequence numbers, whatever order the
// batch arrived in. Raw gRPC interactions are skipped: their frames cannot
// be reissued from a generated HTTP test.
func (g *Generator) Generate(interactions []*capture.CapturedInteraction, strategy GroupStrategy) ([]*GeneratedTest, error) {
	switch strategy {
	case GroupNone, GroupEndpoint, GroupSession:
	default:
		return nil, fmt.Errorf("unknown grouping strategy %q", strategy)
	}

	usable := make([]*capture.CapturedInteraction, 0, len(interactions))
	skippedGRPC := 0
	for _, ix := range interactions {
		if ix == nil || ix.Request == nil {
			continue
		}
		if ix.Request.Protocol == capture.ProtocolGRPC {
			skippedGRPC++
			continue
		}
		usable = append(usable, ix)
	}
	if skippedGRPC > 0 {
		log.Printf("testgen: skipped %d grpc interactions, raw frames cannot be replayed from generated tests", skippedGRPC)
	}

	groups := groupInteractions(usable, strategy)
	seen := make(map[string]int)
	tests := make([]*GeneratedTest, 0, len(groups))
	for _, grp := range groups {
		sort.SliceStable(grp.steps, func(i, j int) bool {
			return grp.steps[i].SequenceNumber < grp.steps[j].SequenceNumber
		})
		tests = append(tests, g.buildTest(uniqueName(seen, grp.name), grp, strategy))
	}
	return tests, nil
}

type group struct {
	name        string
	description string
	steps       []*capture.CapturedInteraction
}

// groupInteractions buckets the batch. Group emission order is the order
// each key was first seen, which keeps output deterministic for a given
// input order.
func groupInteractions(interactions []*capture.CapturedInteraction, strategy GroupStrategy) []*group {
	switch strategy {
	case GroupEndpoint:
		index := make(map[string]*group)
		var out []*group
		for _, ix := range interactions {
			key := ix.Request.Endpoint()
			grp, ok := index[key]
			if !ok {
				grp = &group{
					name:        identifier(key),
					description: fmt.Sprintf("replays captured calls to %s", key),
				}
				index[key] = grp
				out = append(out, grp)
			}
			grp.steps = append(grp.steps, ix)
		}
		return out
	case GroupSession:
		index := make(map[string]*group)
		var out []*group
		for _, ix := range interactions {
			key := ix.SessionID
			if key == "" {
				key = "unassigned"
			}
			grp, ok := index[key]
			if !ok {
				grp = &group{
					name:        identifier("session_" + key),
					description: fmt.Sprintf("replays session %s", key),
				}
				index[key] = grp
				out = append(out, grp)
			}
			grp.steps = append(grp.steps, ix)
		}
		return out
	default:
		out := make([]*group, 0, len(interactions))
		for _, ix := range interactions {
			out = append(out, &group{
				name:        identifier(ix.Request.Endpoint()) + "_" + strconv.FormatInt(ix.SequenceNumber, 10),
				description: fmt.Sprintf("replays %s", ix.Request.Endpoint()),
				steps:       []*capture.CapturedInteraction{ix},
			})
		}
		return out
	}
}

// identifier lowercases method+path and squeezes every non-alphanumeric
// run into a single underscore.
func identifier(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSep = false
		b.WriteRune(r)
	}
	return b.String()
}

func uniqueName(seen map[string]int, base string) string {
	n := seen[base]
	seen[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n+1)
}
