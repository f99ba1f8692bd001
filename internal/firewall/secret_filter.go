package firewall

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// SecretPattern defines a regular expression for one kind of wallet secret.
type SecretPattern struct {
	Name    string
	Type    string
	Pattern *regexp.Regexp
	// Group selects the capture group to mask; 0 masks the whole match.
	Group int
	// WordCounts, when set, cuts the span to the largest listed number of
	// whitespace separated words it holds. Spans shorter than every count
	// are dropped.
	WordCounts []int
	Mask       string
}

// Common wallet secret patterns
var defaultSecretPatterns = []SecretPattern{
	{
		// 0x-prefixed values are transaction hashes far more often than keys, so only bare hex counts.
		Name:    "hex_private_key",
		Type:    "PRIVATE_KEY",
		Pattern: regexp.MustCompile(`\b[0-9a-fA-F]{64}\b`),
		Mask:    "[PRIVATE_KEY]",
	},
	{
		Name:    "labelled_private_key",
		Type:    "PRIVATE_KEY",
		Pattern: regexp.MustCompile(`(?i)\bpriv(?:ate)?\s*key\W{0,3}(?:is\W{1,3})?(0x[0-9a-f]{64})\b`),
		Group:   1,
		Mask:    "[PRIVATE_KEY]",
	},
	{
		Name:    "extended_private_key",
		Type:    "EXTENDED_PRIVATE_KEY",
		Pattern: regexp.MustCompile(`\b[xyzt]prv[1-9A-HJ-NP-Za-km-z]{100,112}\b`),
		Mask:    "[EXTENDED_PRIVATE_KEY]",
	},
	{
		Name:    "wif_private_key",
		Type:    "WIF_KEY",
		Pattern: regexp.MustCompile(`\b[5KL][1-9A-HJ-NP-Za-km-z]{50,51}\b`),
		Mask:    "[WIF_KEY]",
	},
	{
		Name:       "labelled_mnemonic",
		Type:       "MNEMONIC",
		Pattern:    regexp.MustCompile(`(?i)\b(?:seed|recovery|secret|mnemonic|backup)\s+(?:phrase|words?)\W{0,3}(?:is\W{1,3})?((?:[a-z]{3,8}\s+){11,23}[a-z]{3,8})\b`),
		Group:      1,
		WordCounts: []int{24, 21, 18, 15, 12},
		Mask:       "[MNEMONIC]",
	},
}

// SecretFilterConfig configures the secret filter.
type SecretFilterConfig struct {
	Name           string
	Priority       int
	CustomPatterns []SecretPattern
	EnabledTypes   []string // If empty, all default patterns are enabled
}

// SecretFilter detects private keys and recovery phrases with regular expressions.
type SecretFilter struct {
	name     string
	priority int
	patterns []SecretPattern
}

// NewSecretFilter creates a new secret filter.
func NewSecretFilter(config SecretFilterConfig) *SecretFilter {
	if config.Name == "" {
		config.Name = "wallet_secrets"
	}

	patterns := make([]SecretPattern, 0, len(defaultSecretPatterns)+len(config.CustomPatterns))
	if len(config.EnabledTypes) == 0 {
		patterns = append(patterns, defaultSecretPatterns...)
	} else {
		enabled := make(map[string]bool, len(config.EnabledTypes))
		for _, t := range config.EnabledTypes {
			enabled[strings.ToUpper(t)] = true
		}
		for _, p := range defaultSecretPatterns {
			if enabled[p.Type] {
				patterns = append(patterns, p)
			}
		}
	}
	patterns = append(patterns, config.CustomPatterns...)

	return &SecretFilter{name: config.Name, priority: config.Priority, patterns: patterns}
}

func (f *SecretFilter) Name() string { return f.name }

func (f *SecretFilter) Priority() int { return f.priority }

// Scan collects every pattern match, then keeps the earliest of any overlapping spans.
func (f *SecretFilter) Scan(text string) []Finding {
	if text == "" {
		return nil
	}
	var all []Finding
	for _, p := range f.patterns {
		for _, idx := range p.Pattern.FindAllStringSubmatchIndex(text, -1) {
			g := p.Group
			if 2*g+1 >= len(idx) || idx[2*g] < 0 {
				continue
			}
			start, end := idx[2*g], idx[2*g+1]
			if len(p.WordCounts) > 0 {
				n, ok := leadingWords(text[start:end], p.WordCounts)
				if !ok {
					continue
				}
				end = start + n
			}
			all = append(all, Finding{Type: p.Type, Pattern: p.Name, Start: start, End: end, Mask: p.Mask})
		}
	}
	if len(all) == 0 {
		return nil
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].End > all[j].End
	})
	out := all[:1]
	for _, fd := range all[1:] {
		if fd.Start < out[len(out)-1].End {
			continue
		}
		out = append(out, fd)
	}
	return out
}

// leadingWords returns the byte length of the longest prefix of s holding
// exactly one of counts words.
func leadingWords(s string, counts []int) (int, bool) {
	var ends []int
	inWord := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if inWord && space {
			ends = append(ends, i)
		}
		inWord = !space
	}
	if inWord {
		ends = append(ends, len(s))
	}
	best := 0
	for _, c := range counts {
		if c <= len(ends) && c > best {
			best = c
		}
	}
	if best == 0 {
		return 0, false
	}
	return ends[best-1], true
}
