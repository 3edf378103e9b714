// Package patterns implements the compiled rule sets behind the lightweight
// filter: banned words, toxic regexes, spam regexes, and PII detectors.
//
// Rule sets are compiled once into an immutable snapshot held behind an
// atomic pointer; hot reload swaps the whole snapshot so readers never see a
// partially updated set.
package patterns

import (
	"regexp"

	"github.com/streamguard/streamguard/pkg/models"
)

// RulePattern is a single named regex rule from the pattern file.
type RulePattern struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// RuleFile is the on-disk pattern file structure.
type RuleFile struct {
	Version       int           `yaml:"version"`
	BannedWords   []string      `yaml:"banned_words"`
	Whitelist     []string      `yaml:"whitelist"`
	ToxicPatterns []RulePattern `yaml:"toxic_patterns"`
	SpamPatterns  []RulePattern `yaml:"spam_patterns"`
	PIIPatterns   []RulePattern `yaml:"pii_patterns"`
}

// compiledPattern holds a pre-compiled regex with its rule identity.
type compiledPattern struct {
	ID    string
	Type  models.PatternType
	Regex *regexp.Regexp

	// luhn requires the digits of a match to pass a Luhn check before the
	// rule counts as matched (credit-card rule only).
	luhn bool
}

// ruleSet is one immutable compiled snapshot of all rule sets.
type ruleSet struct {
	version     int
	bannedWords []*compiledPattern
	toxic       []*compiledPattern
	spam        []*compiledPattern
	pii         []*compiledPattern
}

// Result is the aggregate outcome of matching one body against all rule sets.
type Result struct {
	Matched bool

	// Terminal is the first terminal category hit (banned word or toxic);
	// empty when only spam/PII matched.
	Terminal models.PatternType

	// Categories collects every rule-set category that matched, in rule-set
	// order.
	Categories []models.PatternType

	// PatternIDs collects the IDs of every matched rule.
	PatternIDs []string
}

// Stats summarizes the active rule set for the stats endpoint.
type Stats struct {
	Version     int `json:"version"`
	BannedWords int `json:"banned_words"`
	Toxic       int `json:"toxic_patterns"`
	Spam        int `json:"spam_patterns"`
	PII         int `json:"pii_patterns"`
}
