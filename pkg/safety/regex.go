// Package safety implements the ReDoS-resistant regex engine required
// by spec §4.6. It follows the teacher's pattern-compilation idiom from
// pkg/masking/pattern.go (compile once, skip-and-log on invalid input)
// but adds the length cap, nested-quantifier rejection, per-call
// timeout, and match-count cap the masking package never needed.
package safety

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
)

const (
	// MaxPatternLength rejects patterns long enough to be a crafted
	// ReDoS payload or simple abuse before they ever reach regexp.Compile.
	MaxPatternLength = 512
	// DefaultTimeout bounds any single match/find call.
	DefaultTimeout = 500 * time.Millisecond
	// DefaultMaxMatches caps how many matches MatchAll/FindAll return.
	DefaultMaxMatches = 1000
)

// Engine compiles and evaluates user-supplied patterns under the
// runtime's safety limits. Build one with NewEngine or DefaultEngine;
// the zero value has a zero timeout, so every match call on it reports
// REGEX_TIMEOUT.
type Engine struct {
	timeout    time.Duration
	maxMatches int
}

// NewEngine builds an Engine with explicit limits. Zero values fall
// back to the package defaults.
func NewEngine(timeout time.Duration, maxMatches int) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxMatches <= 0 {
		maxMatches = DefaultMaxMatches
	}
	return &Engine{timeout: timeout, maxMatches: maxMatches}
}

// DefaultEngine returns an Engine configured with package defaults.
func DefaultEngine() *Engine {
	return NewEngine(DefaultTimeout, DefaultMaxMatches)
}

// nestedQuantifier catches the classic ReDoS shape of a quantified
// group itself quantified, e.g. "(a+)+" or "(a*)*".
var nestedQuantifier = regexp.MustCompile(`\([^)]*[+*]\)[+*]`)

// Compile validates and compiles pattern under the engine's limits. Go's
// RE2-based regexp package is already immune to catastrophic
// backtracking, but we still reject obviously adversarial shapes and
// oversized input so a caller can't wedge the engine with pathological
// patterns even under RE2's linear-time guarantee, and so the same
// pattern source behaves safely if ever ported to a backtracking engine.
func (e *Engine) Compile(pattern string) (*regexp.Regexp, error) {
	if len(pattern) > MaxPatternLength {
		return nil, cairnerrors.Security("REGEX_TOO_LONG",
			"pattern exceeds maximum length", nil).
			WithContext("length", len(pattern)).
			WithContext("max_length", MaxPatternLength)
	}
	if nestedQuantifier.MatchString(pattern) {
		return nil, cairnerrors.Security("REGEX_DANGEROUS_PATTERN",
			"pattern contains a nested quantifier", nil)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Warn("rejected invalid regex pattern", "pattern", pattern, "error", err)
		return nil, cairnerrors.Security("REGEX_INVALID", "pattern failed to compile", err)
	}
	return re, nil
}

// MatchString reports whether s matches re, subject to the engine's
// per-call timeout. A timeout is reported as an error, not a match.
func (e *Engine) MatchString(re *regexp.Regexp, s string) (bool, error) {
	type result struct {
		matched bool
	}
	done := make(chan result, 1)
	go func() {
		done <- result{matched: re.MatchString(s)}
	}()

	select {
	case r := <-done:
		return r.matched, nil
	case <-time.After(e.timeout):
		return false, cairnerrors.Security("REGEX_TIMEOUT", "pattern evaluation exceeded timeout", nil)
	}
}

// FindAll returns up to the engine's maxMatches matches of re in s,
// subject to the per-call timeout. It truncates silently past the cap;
// callers that need to know whether truncation happened should compare
// len(result) to e.maxMatches.
func (e *Engine) FindAll(ctx context.Context, re *regexp.Regexp, s string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		matches []string
	}
	done := make(chan result, 1)
	go func() {
		done <- result{matches: re.FindAllString(s, e.maxMatches)}
	}()

	select {
	case r := <-done:
		return r.matches, nil
	case <-ctx.Done():
		return nil, cairnerrors.Security("REGEX_TIMEOUT", "pattern evaluation exceeded timeout", ctx.Err())
	}
}
