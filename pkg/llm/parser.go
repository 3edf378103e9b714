package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/streamguard/streamguard/pkg/models"
)

// maxReasoningBytes caps the reasoning carried on a verdict.
const maxReasoningBytes = 1024

// verdictPayload is the schema the moderation prompt instructs the model to
// emit. Unknown fields are ignored.
type verdictPayload struct {
	Decision   string   `json:"decision"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Categories []string `json:"categories"`
}

// ParseVerdict parses free-form upstream text purporting to be a JSON
// moderation verdict:
//
//  1. Trim whitespace and optional code-fence markers.
//  2. Attempt a strict JSON parse.
//  3. On failure, extract the first balanced {...} substring and retry.
//  4. Validate required fields.
//
// Returns ErrUnparseable when no valid verdict can be recovered.
func ParseVerdict(text string) (*models.ModerationVerdict, error) {
	candidate := stripFences(strings.TrimSpace(text))

	payload, err := parsePayload(candidate)
	if err != nil {
		embedded, ok := extractBalancedObject(candidate)
		if !ok {
			return nil, fmt.Errorf("%w: no JSON object found", ErrUnparseable)
		}
		payload, err = parsePayload(embedded)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
	}

	if payload.Decision == "" {
		return nil, fmt.Errorf("%w: missing decision field", ErrUnparseable)
	}
	if payload.Confidence == nil {
		return nil, fmt.Errorf("%w: missing confidence field", ErrUnparseable)
	}
	confidence := *payload.Confidence
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrUnparseable, confidence)
	}

	reasoning := payload.Reasoning
	if len(reasoning) > maxReasoningBytes {
		reasoning = reasoning[:maxReasoningBytes]
	}

	return &models.ModerationVerdict{
		Decision:   normalizeDecision(payload.Decision),
		Confidence: confidence,
		Reasoning:  reasoning,
		Categories: payload.Categories,
	}, nil
}

func parsePayload(s string) (*verdictPayload, error) {
	var p verdictPayload
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// stripFences removes a leading/trailing markdown code fence if present.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if len(firstLine) <= 10 && !strings.ContainsAny(firstLine, "{}") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractBalancedObject returns the first balanced top-level {...} substring.
// Tracks JSON string boundaries so braces inside strings don't miscount.
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// decisionAliases maps lowercase upstream labels to canonical decisions.
// Several backends use inconsistent casing and spellings.
var decisionAliases = map[string]models.VerdictDecision{
	"toxic":        models.VerdictToxic,
	"non-toxic":    models.VerdictNonToxic,
	"nontoxic":     models.VerdictNonToxic,
	"non_toxic":    models.VerdictNonToxic,
	"safe":         models.VerdictNonToxic,
	"clean":        models.VerdictNonToxic,
	"spam":         models.VerdictSpam,
	"pii":          models.VerdictPII,
	"harassment":   models.VerdictHarassment,
	"rate_limited": models.VerdictRateLimited,
	"ratelimited":  models.VerdictRateLimited,
	"unknown":      models.VerdictUnknown,
}

func normalizeDecision(s string) models.VerdictDecision {
	if d, ok := decisionAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return d
	}
	return models.VerdictUnknown
}
