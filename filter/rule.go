package filter

import (
	"fmt"
	"regexp"
	"strings"

	"shadowrunner/capture"
)

// Action decides what a matching rule does with an interaction.
type Action string

const (
	Include Action = "include"
	Exclude Action = "exclude"
)

// Condition is one match category attached to a rule. Patterns within a
// category are OR-ed; a rule requires every attached category to pass.
type Condition interface {
	Matches(ix *capture.CapturedInteraction) bool
}

type pathCondition struct {
	patterns []*regexp.Regexp
}

func (c pathCondition) Matches(ix *capture.CapturedInteraction) bool {
	if ix.Request == nil {
		return false
	}
	for _, re := range c.patterns {
		if re.MatchString(ix.Request.Path) {
			return true
		}
	}
	return false
}

// Paths matches interactions whose request path matches any pattern.
// Patterns compile once here, not per evaluation.
func Paths(patterns ...string) (Condition, error) {
	compiled, err := compileAll(patterns)
	if err != nil {
		return nil, err
	}
	return pathCondition{patterns: compiled}, nil
}

type methodCondition struct {
	methods map[string]bool
}

func (c methodCondition) Matches(ix *capture.CapturedInteraction) bool {
	if ix.Request == nil {
		return false
	}
	return c.methods[strings.ToUpper(ix.Request.Method)]
}

// Methods matches interactions using any of the given HTTP methods.
func Methods(methods ...string) Condition {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[strings.ToUpper(m)] = true
	}
	return methodCondition{methods: set}
}

type statusCondition struct {
	codes map[int]bool
}

func (c statusCondition) Matches(ix *capture.CapturedInteraction) bool {
	if ix.Response == nil {
		return false
	}
	return c.codes[ix.Response.StatusCode]
}

// StatusCodes matches interactions whose response carries any of the given
// status codes. Pending interactions never match.
func StatusCodes(codes ...int) Condition {
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return statusCondition{codes: set}
}

type headerCondition struct {
	patterns map[string]*regexp.Regexp
}

func (c headerCondition) Matches(ix *capture.CapturedInteraction) bool {
	if ix.Request == nil {
		return false
	}
	for name, re := range c.patterns {
		if v := ix.Request.Header(name); v != "" && re.MatchString(v) {
			return true
		}
	}
	return false
}

// HeaderPatterns matches when any request header named in the map has a
// value matching its pattern. Header names match case-insensitively.
func HeaderPatterns(patterns map[string]string) (Condition, error) {
	compiled := make(map[string]*regexp.Regexp, len(patterns))
	for name, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile header pattern %q: %w", pattern, err)
		}
		compiled[name] = re
	}
	return headerCondition{patterns: compiled}, nil
}

type contentTypeCondition struct {
	patterns []*regexp.Regexp
}

func (c contentTypeCondition) Matches(ix *capture.CapturedInteraction) bool {
	ct := ix.ContentType()
	if ct == "" {
		return false
	}
	for _, re := range c.patterns {
		if re.MatchString(ct) {
			return true
		}
	}
	return false
}

// ContentTypes matches on the interaction content type (response preferred,
// request as fallback).
func ContentTypes(patterns ...string) (Condition, error) {
	compiled, err := compileAll(patterns)
	if err != nil {
		return nil, err
	}
	return contentTypeCondition{patterns: compiled}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Rule is one prioritized filter decision. Rules are fixed once built
// except for the active flag, which the engine toggles.
type Rule struct {
	Name     string
	Priority int
	Action   Action

	conditions []Condition
	active     bool
}

// NewRule builds an active rule from pre-compiled conditions. Higher
// priorities evaluate first.
func NewRule(name string, priority int, action Action, conditions ...Condition) *Rule {
	return &Rule{
		Name:       name,
		Priority:   priority,
		Action:     action,
		conditions: conditions,
		active:     true,
	}
}

// Active reports whether the rule participates in evaluation.
func (r *Rule) Active() bool {
	return r.active
}

// Matches reports whether every condition category attached to the rule
// passes for ix. A rule with no conditions matches every interaction.
func (r *Rule) Matches(ix *capture.CapturedInteraction) bool {
	for _, c := range r.conditions {
		if !c.Matches(ix) {
			return false
		}
	}
	return true
}
