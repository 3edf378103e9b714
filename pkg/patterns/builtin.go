package patterns

// Built-in rules applied when the pattern file omits a section. The pattern
// file extends (never replaces) the built-in PII detectors.

var builtinBannedWords = []string{
	"slur1", "slur2", "slur3",
}

var builtinToxicPatterns = []RulePattern{
	{Name: "self_harm_directive", Pattern: `(?i)\b(kill\s+yourself|kys)\b`},
	{Name: "threat", Pattern: `(?i)\b(i\s+will\s+(hurt|kill|find)\s+you)\b`},
	{Name: "hate_speech", Pattern: `(?i)\b(go\s+back\s+to\s+your\s+country)\b`},
}

var builtinSpamPatterns = []RulePattern{
	{Name: "repeated_chars", Pattern: `(.)\1{9,}`},
	{Name: "promo_url", Pattern: `(?i)\b(buy\s+now|free\s+money|click\s+here)\b.*https?://`},
	{Name: "crypto_pump", Pattern: `(?i)\b(pump|moon|10x)\b.*\b(coin|token|crypto)\b`},
	{Name: "all_caps_shout", Pattern: `^[^a-z]{40,}$`},
}

var builtinPIIPatterns = []RulePattern{
	{Name: "email", Pattern: `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`},
	{Name: "phone_e164", Pattern: `\+?[1-9]\d{1,2}[\s\-.]?\(?\d{2,4}\)?[\s\-.]?\d{3,4}[\s\-.]?\d{3,4}\b`},
	{Name: "ipv4", Pattern: `\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`},
	{Name: "street_address", Pattern: `(?i)\b\d{1,5}\s+\w+(\s\w+)?\s+(street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr)\b`},
}

// builtinCreditCard is kept separate because matches must additionally pass a
// Luhn check.
var builtinCreditCard = RulePattern{
	Name:    "credit_card",
	Pattern: `\b(?:\d[ \-]?){13,19}\b`,
}
