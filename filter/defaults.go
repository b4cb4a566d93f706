package filter

// Stock rule priorities, highest evaluated first. Learned exclusions sit
// above everything so calibration can override the static set.
const (
	PriorityLearned       = 500
	PriorityInfraPaths    = 400
	PriorityStandardVerbs = 300
	PriorityStaticContent = 200
	PriorityPreflight     = 100
)

// DefaultRules returns the stock rule set: drop infrastructure and static
// noise, keep the standard request verbs.
func DefaultRules() []*Rule {
	return []*Rule{
		NewRule("exclude-infra-paths", PriorityInfraPaths, Exclude, mustPaths(
			`^/health$`,
			`^/healthz$`,
			`^/ready$`,
			`^/readyz$`,
			`^/live$`,
			`^/livez$`,
			`^/ping$`,
			`^/metrics$`,
			`^/static/`,
			`^/assets/`,
			`^/favicon\.ico$`,
			`^/robots\.txt$`,
			`^/sitemap\.xml$`,
		)),
		NewRule("include-standard-verbs", PriorityStandardVerbs, Include,
			Methods("GET", "POST", "PUT", "PATCH", "DELETE"),
		),
		NewRule("exclude-static-content", PriorityStaticContent, Exclude, mustContentTypes(
			`^text/css`,
			`javascript`,
			`^image/`,
			`^font/`,
			`^application/font`,
		)),
		NewRule("exclude-preflight", PriorityPreflight, Exclude,
			Methods("OPTIONS"),
		),
	}
}

func mustPaths(patterns ...string) Condition {
	c, err := Paths(patterns...)
	if err != nil {
		panic(err)
	}
	return c
}

func mustContentTypes(patterns ...string) Condition {
	c, err := ContentTypes(patterns...)
	if err != nil {
		panic(err)
	}
	return c
}
