package utils

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

//go:embed medical_history_terms.json
var defaultHistoryTerms []byte

// HistoryTermsConfig holds medical abbreviation and typo correction data
type HistoryTermsConfig struct {
	Abbreviations map[string]AbbreviationEntry `json:"abbreviations"`
	Typos         map[string]string            `json:"typos"`
}

// AbbreviationEntry represents a medical abbreviation
type AbbreviationEntry struct {
	Expanded   string   `json:"expanded"`
	Alternates []string `json:"alternates"`
	Category   string   `json:"category"`
}

type compiledTerm struct {
	re       *regexp.Regexp
	expanded string
	category string
}

type compiledTypo struct {
	re      *regexp.Regexp
	correct string
}

var segmentSeparators = regexp.MustCompile(`[,;\n/]+`)

// HistoryNormalizer turns free-text medical history into lower-case
// condition tags with abbreviations expanded and known typos fixed.
type HistoryNormalizer struct {
	terms []compiledTerm
	typos []compiledTypo
}

// NewHistoryNormalizer loads terms from configPath, or the embedded defaults
// when configPath is empty.
func NewHistoryNormalizer(configPath string) (*HistoryNormalizer, error) {
	raw := defaultHistoryTerms
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		raw = data
	}

	var config HistoryTermsConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return newHistoryNormalizer(&config), nil
}

// DefaultHistoryNormalizer returns a normalizer over the embedded terms
func DefaultHistoryNormalizer() *HistoryNormalizer {
	n, err := NewHistoryNormalizer("")
	if err != nil {
		panic(fmt.Sprintf("embedded medical history terms are invalid: %v", err))
	}
	return n
}

func newHistoryNormalizer(config *HistoryTermsConfig) *HistoryNormalizer {
	n := &HistoryNormalizer{}

	// Longest first so "t2dm" wins over "dm"
	var keys []string
	for abbr := range config.Abbreviations {
		keys = append(keys, abbr)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	for _, abbr := range keys {
		entry := config.Abbreviations[abbr]
		for _, form := range append([]string{abbr}, entry.Alternates...) {
			n.terms = append(n.terms, compiledTerm{
				re:       regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(form) + `\b`),
				expanded: strings.ToLower(entry.Expanded),
				category: strings.ToLower(entry.Category),
			})
		}
	}

	var typos []string
	for typo := range config.Typos {
		typos = append(typos, typo)
	}
	sort.Strings(typos)
	for _, typo := range typos {
		n.typos = append(n.typos, compiledTypo{
			re:      regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(typo) + `\b`),
			correct: strings.ToLower(config.Typos[typo]),
		})
	}
	return n
}

// Normalize returns the sorted, deduplicated tags for a history text and
// any tags already attached to the record.
func (n *HistoryNormalizer) Normalize(history string, tags []string) []string {
	segments := segmentSeparators.Split(history, -1)
	segments = append(segments, tags...)

	tagSet := make(map[string]bool)
	for _, segment := range segments {
		text := collapseSpaces(strings.ToLower(segment))
		if text == "" {
			continue
		}
		for _, typo := range n.typos {
			text = typo.re.ReplaceAllString(text, typo.correct)
		}
		for _, term := range n.terms {
			if !term.re.MatchString(text) {
				continue
			}
			text = term.re.ReplaceAllString(text, term.expanded)
			if term.category != "" {
				tagSet[term.category] = true
			}
		}
		tagSet[collapseSpaces(text)] = true
	}

	out := make([]string, 0, len(tagSet))
	for tag := range tagSet {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// ContainsAny reports whether any tag contains any of the given conditions
func ContainsAny(tags []string, conditions []string) bool {
	for _, tag := range tags {
		for _, condition := range conditions {
			if strings.Contains(tag, condition) {
				return true
			}
		}
	}
	return false
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
