// Package errorscan detects account and environment error states from the
// visible text of a screen.
package errorscan

import (
	"strings"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// Rule maps a failure code to the literal substrings that indicate it.
type Rule struct {
	Code     schemas.FailureCode
	Patterns []string
}

// Match describes the first rule that fired.
type Match struct {
	Code    schemas.FailureCode
	Class   schemas.FailureClass
	Pattern string
	Element schemas.UIElement
}

// Permanent reports whether the matched state must not be retried.
func (m *Match) Permanent() bool { return m != nil && m.Code.Permanent() }

// Scanner checks snapshots against an ordered rule table.
type Scanner struct {
	rules []Rule
}

// New builds a scanner. Patterns are matched case-insensitively.
func New(rules ...Rule) *Scanner {
	s := &Scanner{rules: make([]Rule, 0, len(rules))}
	for _, r := range rules {
		lowered := Rule{Code: r.Code, Patterns: make([]string, 0, len(r.Patterns))}
		for _, p := range r.Patterns {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				lowered.Patterns = append(lowered.Patterns, p)
			}
		}
		s.rules = append(s.rules, lowered)
	}
	return s
}

// Default returns the scanner with the stock rule table. Permanent account
// states come first so they win over a transient banner shown alongside them.
func Default() *Scanner {
	return New(
		Rule{Code: schemas.CodeAccountBanned, Patterns: []string{
			"account has been banned", "permanently banned", "account was banned",
		}},
		Rule{Code: schemas.CodeAccountSuspended, Patterns: []string{
			"account has been suspended", "account was suspended", "account is suspended", "temporarily suspended",
		}},
		Rule{Code: schemas.CodeCaptchaRequired, Patterns: []string{
			"verify you're human", "verify you are human", "drag the slider", "complete the puzzle", "captcha",
		}},
		Rule{Code: schemas.CodeLoggedOut, Patterns: []string{
			"session expired", "you've been logged out", "you have been logged out", "please log in again",
		}},
		Rule{Code: schemas.CodeRateLimited, Patterns: []string{
			"too many attempts", "you're doing that too much", "try again later", "too many requests",
		}},
		Rule{Code: schemas.CodeAppNotResponding, Patterns: []string{
			"isn't responding", "keeps stopping", "has stopped",
		}},
		Rule{Code: schemas.CodeNetworkUnavailable, Patterns: []string{
			"no internet connection", "no network connection", "check your connection", "network error",
		}},
	)
}

// Detect returns the first rule, in table order, with a pattern found in any
// element's text or description. Nil means the screen shows no known error.
func (s *Scanner) Detect(snap *schemas.ScreenSnapshot) *Match {
	if snap.Len() == 0 {
		return nil
	}
	lowered := make([][2]string, len(snap.Elements))
	for i, e := range snap.Elements {
		lowered[i] = [2]string{strings.ToLower(e.Text), strings.ToLower(e.Description)}
	}
	for _, r := range s.rules {
		for _, p := range r.Patterns {
			for i, fields := range lowered {
				if strings.Contains(fields[0], p) || strings.Contains(fields[1], p) {
					return &Match{Code: r.Code, Class: r.Code.Class(), Pattern: p, Element: snap.Elements[i]}
				}
			}
		}
	}
	return nil
}
