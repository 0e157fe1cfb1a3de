// Package rewrite implements literal text substitution over HTML bodies.
package rewrite

import (
	"strings"
)

// Placeholders recognised in rule patterns and replacements.
const (
	PlaceholderUpstream     = "$upstream"
	PlaceholderCustomDomain = "$custom_domain"
)

// Rule is a literal pattern and its replacement.
type Rule struct {
	Pattern     string
	Replacement string
}

// Rules is an ordered rule table.
type Rules []Rule

// Resolve substitutes $upstream and $custom_domain in every pattern and
// replacement. Order is preserved. Rules whose pattern resolves to the empty
// string are dropped, since an empty literal matches between every rune.
func (rs Rules) Resolve(upstream, customDomain string) Rules {
	r := strings.NewReplacer(
		PlaceholderUpstream, upstream,
		PlaceholderCustomDomain, customDomain,
	)

	resolved := make(Rules, 0, len(rs))
	for _, rule := range rs {
		p := r.Replace(rule.Pattern)
		if p == "" {
			continue
		}
		resolved = append(resolved, Rule{Pattern: p, Replacement: r.Replace(rule.Replacement)})
	}
	return resolved
}

// Apply replaces every occurrence of each pattern in text, one rule at a time.
// Rule i+1 runs on the output of rule i, so a replacement produced by an
// earlier rule can be matched again by a later one.
func (rs Rules) Apply(text string) string {
	for _, rule := range rs {
		text = strings.ReplaceAll(text, rule.Pattern, rule.Replacement)
	}
	return text
}
