package tracer

import (
	"fmt"
	"strings"
)

// Filter is a predicate over a trace point.  Filters are immutable
// once built and safe for concurrent use; matching has no side
// effects.
type Filter interface {
	Matches(tp *TracePoint) bool
}

// MatchingMode selects how a pattern filter compares its pattern
// against a field.
type MatchingMode int

const (
	// StrictMatch compares the whole field against the literal
	// pattern.
	StrictMatch MatchingMode = iota
	// SubstringMatch accepts any field containing the pattern.
	SubstringMatch
	// WildcardMatch interprets `*` as any run of characters and
	// `?` as any single character.  The match is anchored and
	// case-sensitive.
	WildcardMatch
)

func matchingModeByName(name string) (MatchingMode, error) {
	switch name {
	case "", "strict":
		return StrictMatch, nil
	case "substring":
		return SubstringMatch, nil
	case "wildcard":
		return WildcardMatch, nil
	default:
		return StrictMatch, fmt.Errorf("unknown matching mode '%s'", name)
	}
}

func matchPattern(mode MatchingMode, pattern, s string) bool {
	switch mode {
	case SubstringMatch:
		return strings.Contains(s, pattern)
	case WildcardMatch:
		return matchWildcard(pattern, s)
	default:
		return pattern == s
	}
}

// matchWildcard matches s against pattern where `*` matches any run
// (including none) and `?` matches exactly one character.  Linear
// scan with backtracking to the most recent star.
func matchWildcard(pattern, s string) bool {
	p, r := []rune(pattern), []rune(s)
	var pi, si int
	star, mark := -1, 0
	for si < len(r) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == r[si]):
			pi++
			si++
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// MatchAnyFilter admits every trace point.
type MatchAnyFilter struct{}

func (MatchAnyFilter) Matches(*TracePoint) bool { return true }

// MatchNothingFilter admits no trace point.
type MatchNothingFilter struct{}

func (MatchNothingFilter) Matches(*TracePoint) bool { return false }

// PathFilter matches the source file of a trace point.
type PathFilter struct {
	Mode    MatchingMode
	Pattern string
}

func (f *PathFilter) Matches(tp *TracePoint) bool {
	return matchPattern(f.Mode, f.Pattern, tp.SourceFile)
}

// FunctionFilter matches the function signature of a trace point.
type FunctionFilter struct {
	Mode    MatchingMode
	Pattern string
}

func (f *FunctionFilter) Matches(tp *TracePoint) bool {
	return matchPattern(f.Mode, f.Pattern, tp.Function)
}

// KeyFilter matches the user-defined grouping key of a trace point.
type KeyFilter struct {
	Mode    MatchingMode
	Pattern string
}

func (f *KeyFilter) Matches(tp *TracePoint) bool {
	return matchPattern(f.Mode, f.Pattern, tp.Key)
}

// ProcessNameFilter matches against a fixed process name.  The name
// is resolved once at configuration build time since a process
// cannot change its own name mid-run.
type ProcessNameFilter struct {
	Mode        MatchingMode
	Pattern     string
	ProcessName string
}

func (f *ProcessNameFilter) Matches(*TracePoint) bool {
	return matchPattern(f.Mode, f.Pattern, f.ProcessName)
}

// VerbosityFilter admits trace points up to and including the given
// verbosity.
type VerbosityFilter struct {
	MaxVerbosity int
}

func (f *VerbosityFilter) Matches(tp *TracePoint) bool {
	return tp.Verbosity <= f.MaxVerbosity
}

// TypeFilter admits trace points whose type is in the set.
type TypeFilter struct {
	Types map[TracePointType]bool
}

func (f *TypeFilter) Matches(tp *TracePoint) bool {
	return f.Types[tp.Type]
}

// ConjunctionFilter admits a trace point only if all children do.
// Children are evaluated left to right with short-circuiting.
type ConjunctionFilter struct {
	Children []Filter
}

func (f *ConjunctionFilter) Matches(tp *TracePoint) bool {
	for _, c := range f.Children {
		if !c.Matches(tp) {
			return false
		}
	}
	return true
}

// DisjunctionFilter admits a trace point if any child does.
type DisjunctionFilter struct {
	Children []Filter
}

func (f *DisjunctionFilter) Matches(tp *TracePoint) bool {
	for _, c := range f.Children {
		if c.Matches(tp) {
			return true
		}
	}
	return false
}

// NegationFilter inverts its child.
type NegationFilter struct {
	Child Filter
}

func (f *NegationFilter) Matches(tp *TracePoint) bool {
	return !f.Child.Matches(tp)
}
