package decompose

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var capabilityKeywords = map[string][]string{
	"code":     {"implement", "refactor", "write", "add", "build", "fix", "change", "update", "create", "migrate", "rewrite", "remove", "extract"},
	"test":     {"test", "tests", "verify", "validate", "coverage", "qa"},
	"docs":     {"document", "documentation", "docs", "readme", "changelog"},
	"security": {"auth", "authentication", "authorization", "security", "permission", "permissions", "token", "encrypt", "password", "oauth"},
	"frontend": {"ui", "frontend", "css", "html", "react", "view", "page", "layout"},
	"database": {"database", "db", "sql", "schema", "migration", "migrations", "query", "table", "index"},
	"analysis": {"analyze", "analyse", "investigate", "research", "profile", "measure"},
	"review":   {"review", "audit", "inspect"},
}

var (
	highComplexityWords = []string{"refactor", "redesign", "rewrite", "migrate", "architecture", "overhaul", "rearchitect", "distributed"}
	lowComplexityWords  = []string{"rename", "typo", "document", "docs", "comment", "format", "bump", "readme"}
)

// componentPattern finds "<name> module", "<name> service" and similar phrases.
var componentPattern = regexp.MustCompile(`(?i)\b([a-z][a-z0-9_-]*)\s+(module|service|package|component|layer|api|library|subsystem|handler|controller)s?\b`)

var componentStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "each": true, "every": true, "this": true, "that": true,
	"new": true, "our": true, "my": true, "your": true, "whole": true, "entire": true, "same": true,
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func containsAny(tokens map[string]bool, candidates []string) bool {
	for _, c := range candidates {
		if tokens[c] {
			return true
		}
	}
	return false
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range words(text) {
		set[w] = true
	}
	return set
}

// inferCapabilities maps keywords in text to capability names, sorted.
func inferCapabilities(text string, extra ...string) []string {
	tokens := tokenSet(text)
	caps := make(map[string]bool)
	for capability, keywords := range capabilityKeywords {
		if containsAny(tokens, keywords) {
			caps[capability] = true
		}
	}
	for _, e := range extra {
		if e != "" {
			caps[e] = true
		}
	}
	out := make([]string, 0, len(caps))
	for c := range caps {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// inferComplexity estimates effort from the wording of a task.
func inferComplexity(text string) Complexity {
	tokens := tokenSet(text)
	switch {
	case containsAny(tokens, highComplexityWords):
		return ComplexityHigh
	case containsAny(tokens, lowComplexityWords):
		return ComplexityLow
	default:
		return ComplexityMedium
	}
}

// detectComponents finds component names mentioned in free text.
func detectComponents(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range componentPattern.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(m[1])
		if componentStopwords[name] || seen[slug(name)] {
			continue
		}
		seen[slug(name)] = true
		names = append(names, name)
	}
	return names
}

// matchComponents returns the codebase components referenced by text. When the
// text names none of them, every component is in scope.
func matchComponents(text string, codebase *CodebaseContext) []Component {
	if codebase == nil || len(codebase.Components) == 0 {
		return nil
	}
	tokens := tokenSet(text)
	lower := strings.ToLower(text)

	var matched []Component
	for _, c := range codebase.Components {
		if c.Name == "" {
			continue
		}
		hit := strings.Contains(lower, strings.ToLower(c.Name))
		for _, kw := range c.Keywords {
			if hit {
				break
			}
			hit = tokens[strings.ToLower(kw)]
		}
		for _, p := range c.Paths {
			if hit {
				break
			}
			hit = p != "" && strings.Contains(lower, strings.ToLower(p))
		}
		if hit {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		for _, c := range codebase.Components {
			if c.Name != "" {
				matched = append(matched, c)
			}
		}
	}
	return matched
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	out := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if out == "" {
		return "task"
	}
	return out
}

// uniqueSlug returns slug(s), suffixed with -2, -3, ... when the slug is
// already in used, and records the result.
func uniqueSlug(s string, used map[string]bool) string {
	base := slug(s)
	out := base
	for n := 2; used[out]; n++ {
		out = fmt.Sprintf("%s-%d", base, n)
	}
	used[out] = true
	return out
}

// leadingVerb returns the capitalized first word of text, or "Implement".
func leadingVerb(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "Implement"
	}
	w := strings.ToLower(strings.Trim(fields[0], ".,;:!?"))
	if w == "" {
		return "Implement"
	}
	return capitalize(w)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "..."
}
