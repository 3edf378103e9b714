package patterns

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync/atomic"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/streamguard/streamguard/pkg/models"
)

// ErrNoRules indicates the matcher was asked to match before any rule set
// was loaded.
var ErrNoRules = errors.New("no rule set loaded")

// Matcher matches message bodies against the active rule-set snapshot.
// Match is CPU-bound and safe for concurrent use.
type Matcher struct {
	rules  atomic.Pointer[ruleSet]
	logger *slog.Logger
}

// NewMatcher creates a matcher preloaded with the built-in rule sets.
func NewMatcher() *Matcher {
	m := &Matcher{logger: slog.Default().With("component", "patterns")}
	m.rules.Store(compile(&RuleFile{Version: 0}, m.logger))
	return m
}

// LoadFile parses the pattern file and atomically swaps in the compiled
// snapshot. Invalid individual patterns are logged and skipped; a missing or
// unparseable file is an error.
func (m *Matcher) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pattern file: %w", err)
	}
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse pattern file %s: %w", path, err)
	}
	m.rules.Store(compile(&rf, m.logger))
	m.logger.Info("Pattern rules loaded",
		"path", path,
		"version", rf.Version,
		"banned_words", len(rf.BannedWords),
		"toxic", len(rf.ToxicPatterns),
		"spam", len(rf.SpamPatterns),
		"pii_extra", len(rf.PIIPatterns))
	return nil
}

// Match runs all rule sets against body. The body is NFKC-normalized before
// matching. The first terminal category (banned word or toxic pattern) is
// recorded, and matching continues across the remaining sets to collect all
// categories.
func (m *Matcher) Match(body string) (Result, error) {
	rs := m.rules.Load()
	if rs == nil {
		return Result{}, ErrNoRules
	}

	normalized := norm.NFKC.String(body)
	var res Result

	matchSet := func(set []*compiledPattern, category models.PatternType, terminal bool) {
		hit := false
		for _, p := range set {
			loc := p.Regex.FindString(normalized)
			if loc == "" {
				continue
			}
			if p.luhn && !luhnValid(loc) {
				continue
			}
			res.PatternIDs = append(res.PatternIDs, p.ID)
			hit = true
		}
		if hit {
			res.Matched = true
			res.Categories = append(res.Categories, category)
			if terminal && res.Terminal == "" {
				res.Terminal = category
			}
		}
	}

	matchSet(rs.bannedWords, models.PatternBannedWord, true)
	matchSet(rs.toxic, models.PatternToxic, true)
	matchSet(rs.spam, models.PatternSpam, false)
	matchSet(rs.pii, models.PatternPII, false)

	return res, nil
}

// Stats reports the size of the active rule set.
func (m *Matcher) Stats() Stats {
	rs := m.rules.Load()
	if rs == nil {
		return Stats{}
	}
	return Stats{
		Version:     rs.version,
		BannedWords: len(rs.bannedWords),
		Toxic:       len(rs.toxic),
		Spam:        len(rs.spam),
		PII:         len(rs.pii),
	}
}

// compile builds an immutable ruleSet from the file content plus built-ins.
// File sections replace the built-in section when non-empty, except PII,
// which always includes the built-in detectors.
func compile(rf *RuleFile, logger *slog.Logger) *ruleSet {
	rs := &ruleSet{version: rf.Version}

	whitelist := make(map[string]bool, len(rf.Whitelist))
	for _, w := range rf.Whitelist {
		whitelist[norm.NFKC.String(w)] = true
	}

	bannedWords := rf.BannedWords
	if len(bannedWords) == 0 {
		bannedWords = builtinBannedWords
	}
	for _, word := range bannedWords {
		if whitelist[norm.NFKC.String(word)] {
			continue
		}
		expr := `(?i)\b` + regexp.QuoteMeta(norm.NFKC.String(word)) + `\b`
		compiled, err := regexp.Compile(expr)
		if err != nil {
			logger.Error("Failed to compile banned word, skipping", "word", word, "error", err)
			continue
		}
		rs.bannedWords = append(rs.bannedWords, &compiledPattern{
			ID:    "banned:" + word,
			Type:  models.PatternBannedWord,
			Regex: compiled,
		})
	}

	rs.toxic = compileSet(orBuiltin(rf.ToxicPatterns, builtinToxicPatterns), "toxic", models.PatternToxic, logger)
	rs.spam = compileSet(orBuiltin(rf.SpamPatterns, builtinSpamPatterns), "spam", models.PatternSpam, logger)

	pii := append([]RulePattern{}, builtinPIIPatterns...)
	pii = append(pii, rf.PIIPatterns...)
	rs.pii = compileSet(pii, "pii", models.PatternPII, logger)

	if cc := compileSet([]RulePattern{builtinCreditCard}, "pii", models.PatternPII, logger); len(cc) == 1 {
		cc[0].luhn = true
		rs.pii = append(rs.pii, cc[0])
	}

	return rs
}

func orBuiltin(file, builtin []RulePattern) []RulePattern {
	if len(file) > 0 {
		return file
	}
	return builtin
}

func compileSet(rules []RulePattern, prefix string, typ models.PatternType, logger *slog.Logger) []*compiledPattern {
	out := make([]*compiledPattern, 0, len(rules))
	for _, r := range rules {
		compiled, err := regexp.Compile(r.Pattern)
		if err != nil {
			logger.Error("Failed to compile pattern, skipping",
				"pattern", r.Name, "set", prefix, "error", err)
			continue
		}
		out = append(out, &compiledPattern{
			ID:    prefix + ":" + r.Name,
			Type:  typ,
			Regex: compiled,
		})
	}
	return out
}

// luhnValid reports whether the digits in s form a valid Luhn checksum.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
