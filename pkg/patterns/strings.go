// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

package patterns

import (
	"fmt"
	"regexp"
	"strings"
)

// stringMatcher matches a string value against an exact literal, a glob, or
// a regex literal. The form is decided once at compile time.
type stringMatcher struct {
	any    bool // bare "*" or "**": matches every value
	exact  string
	regex  *regexp.Regexp
	anchor bool // globs match the whole string; regex literals search
}

// compileString compiles a string pattern. Patterns wrapped in "/…/" are
// regexes searched anywhere in the value; patterns containing "*" are globs
// anchored to the whole value; anything else is an exact literal.
//
// A bare "*" matches any value outright. Segment scoping only applies to a
// "*" embedded in a larger pattern ("mcp/*" does not match "mcp/a/b").
func compileString(pattern string) (*stringMatcher, error) {
	if pattern == "*" || pattern == "**" {
		return &stringMatcher{any: true}, nil
	}
	if isRegexLiteral(pattern) {
		re, err := regexp.Compile(pattern[1 : len(pattern)-1])
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		return &stringMatcher{regex: re}, nil
	}

	if strings.Contains(pattern, "*") {
		re, err := regexp.Compile(globToRegex(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		return &stringMatcher{regex: re, anchor: true}, nil
	}

	return &stringMatcher{exact: pattern}, nil
}

func (m *stringMatcher) match(value string) bool {
	if m.any {
		return true
	}
	if m.regex != nil {
		return m.regex.MatchString(value)
	}
	return m.exact == value
}

func isRegexLiteral(pattern string) bool {
	return len(pattern) > 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/")
}

// globToRegex converts a glob to an anchored regex. "*" matches within one
// "/"-separated segment, "**" matches across segments.
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		if glob[i] != '*' {
			b.WriteString(regexp.QuoteMeta(string(glob[i])))
			continue
		}
		if i+1 < len(glob) && glob[i+1] == '*' {
			b.WriteString(".*")
			i++
		} else {
			b.WriteString("[^/]*")
		}
	}
	b.WriteString("$")
	return b.String()
}
