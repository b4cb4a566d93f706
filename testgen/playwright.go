package testgen

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"shadowrunner/capture"
)

// buildTest emits one exported Playwright function driving the group's
// steps through an APIRequestContext handle.
func (g *Generator) buildTest(name string, grp *group, strategy GroupStrategy) *GeneratedTest {
	var b strings.Builder
	fmt.Fprintf(&b, "export async function %s(request: APIRequestContext): Promise<void> {\n", name)
	var assertions []string
	for i, ix := range grp.steps {
		if i > 0 {
			b.WriteString("\n")
		}
		assertions = append(assertions, g.emitStep(&b, i, ix)...)
	}
	b.WriteString("}\n")

	return &GeneratedTest{
		Name:         name,
		Description:  grp.description,
		SourceCode:   b.String(),
		Interactions: grp.steps,
		Assertions:   assertions,
		Metadata: Metadata{
			Strategy:         strategy,
			InteractionCount: len(grp.steps),
			GeneratedAt:      time.Now().UTC(),
		},
	}
}

// emitStep writes one request plus its assertions and returns their
// human-readable descriptions. Steps without a captured response issue
// the request and assert nothing.
func (g *Generator) emitStep(b *strings.Builder, idx int, ix *capture.CapturedInteraction) []string {
	req := ix.Request
	url := g.stepURL(req)
	method, direct := playwrightMethod(req.Method)

	headers := stepHeaders(req.Headers)
	body := req.Body
	if len(body) > g.maxBody {
		body = body[:g.maxBody]
	}
	includeBody := body != "" && req.Method != "GET" && req.Method != "HEAD"
	needsOptions := len(headers) > 0 || includeBody || !direct

	if ix.Response != nil {
		fmt.Fprintf(b, "  const res%d = await ", idx)
	} else {
		b.WriteString("  await ")
	}
	if direct {
		fmt.Fprintf(b, "request.%s('%s'", method, escapeJS(url))
	} else {
		fmt.Fprintf(b, "request.fetch('%s'", escapeJS(url))
	}
	if needsOptions {
		b.WriteString(", {\n")
		if !direct {
			fmt.Fprintf(b, "    method: '%s',\n", escapeJS(req.Method))
		}
		if len(headers) > 0 {
			b.WriteString("    headers: {\n")
			for _, h := range headers {
				fmt.Fprintf(b, "      '%s': '%s',\n", escapeJS(strings.ToLower(h.name)), escapeJS(h.value))
			}
			b.WriteString("    },\n")
		}
		if includeBody {
			fmt.Fprintf(b, "    data: '%s',\n", escapeJS(body))
		}
		b.WriteString("  })")
	} else {
		b.WriteString(")")
	}
	b.WriteString(";\n")

	if ix.Response == nil {
		return nil
	}

	assertions := []string{
		fmt.Sprintf("step %d: %s %s responds %d", idx, req.Method, req.Path, ix.Response.StatusCode),
	}
	fmt.Fprintf(b, "  expect(res%d.status()).toBe(%d);\n", idx, ix.Response.StatusCode)

	keys := topLevelKeys(ix.Response.Body, maxJSONKeyChecks)
	if len(keys) > 0 {
		fmt.Fprintf(b, "  const body%d = await res%d.json();\n", idx, idx)
		for _, key := range keys {
			fmt.Fprintf(b, "  expect(body%d).toHaveProperty('%s');\n", idx, escapeJS(key))
			assertions = append(assertions, fmt.Sprintf("step %d: response JSON has key %q", idx, key))
		}
	}
	return assertions
}

func (g *Generator) stepURL(req *capture.CapturedRequest) string {
	if g.baseURL != "" {
		return strings.TrimRight(g.baseURL, "/") + req.Path
	}
	if req.URL != "" {
		return req.URL
	}
	return req.Path
}

// playwrightMethod maps an HTTP verb onto APIRequestContext's shorthand
// methods; anything else goes through fetch with an explicit method.
func playwrightMethod(method string) (string, bool) {
	switch strings.ToUpper(method) {
	case "GET":
		return "get", true
	case "POST":
		return "post", true
	case "PUT":
		return "put", true
	case "PATCH":
		return "patch", true
	case "DELETE":
		return "delete", true
	case "HEAD":
		return "head", true
	default:
		return "", false
	}
}

type headerPair struct {
	name  string
	value string
}

// Headers the HTTP client computes itself; replaying captured values for
// these breaks the reissued request.
var skippedHeaders = map[string]struct{}{
	"content-length": {},
	"host":           {},
	"connection":     {},
}

// stepHeaders picks up to maxStepHeaders headers, sorted by name so the
// emitted source is stable across runs.
func stepHeaders(headers map[string]string) []headerPair {
	names := make([]string, 0, len(headers))
	for name := range headers {
		if _, skip := skippedHeaders[strings.ToLower(name)]; skip {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > maxStepHeaders {
		names = names[:maxStepHeaders]
	}
	out := make([]headerPair, 0, len(names))
	for _, name := range names {
		out = append(out, headerPair{name: name, value: headers[name]})
	}
	return out
}

// topLevelKeys returns up to limit keys of a JSON object body in document
// order, or nil when the body is not a JSON object.
func topLevelKeys(body string, limit int) []string {
	dec := json.NewDecoder(strings.NewReader(body))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}
	var keys []string
	for dec.More() && len(keys) < limit {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil
		}
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return nil
		}
		keys = append(keys, key)
	}
	return keys
}

func escapeJS(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
