package account

import (
	"strings"
	"unicode"
)

// maskRunes are the characters statements use to hide digits.
const maskRunes = "X*•#"

var numberStripper = strings.NewReplacer(" ", "", "-", "", "\t", "")

// NormalizeNumber strips spaces and dashes and upper-cases.
func NormalizeNumber(number string) string {
	return strings.ToUpper(numberStripper.Replace(strings.TrimSpace(number)))
}

// IsMasked reports whether number contains a masking character.
func IsMasked(number string) bool {
	return strings.ContainsAny(NormalizeNumber(number), maskRunes)
}

func lastFour(normalized string) string {
	r := []rune(normalized)
	if len(r) < 4 {
		return ""
	}
	tail := string(r[len(r)-4:])
	if strings.ContainsAny(tail, maskRunes) {
		return ""
	}
	return tail
}

// NumbersMatch reports whether two account numbers denote the same account:
// equal after normalization, or sharing their last four characters when at
// least one side is masked.
func NumbersMatch(a, b string) bool {
	na, nb := NormalizeNumber(a), NormalizeNumber(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if !strings.ContainsAny(na, maskRunes) && !strings.ContainsAny(nb, maskRunes) {
		return false
	}
	la, lb := lastFour(na), lastFour(nb)
	return la != "" && la == lb
}

// NamesMatch is a case-insensitive equality or containment check.
func NamesMatch(a, b string) bool {
	la := strings.ToLower(strings.TrimSpace(a))
	lb := strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return false
	}
	return la == lb || strings.Contains(la, lb) || strings.Contains(lb, la)
}

var fillerWords = map[string]struct{}{
	"account": {}, "accounts": {}, "acct": {}, "the": {}, "and": {}, "for": {},
	"inc": {}, "llc": {}, "ltd": {}, "corp": {}, "corporation": {}, "company": {},
	"checking": {}, "savings": {}, "brokerage": {}, "individual": {}, "joint": {},
	"ira": {}, "unknown": {},
}

// MeaningfulTokens splits a name into lower-case tokens worth comparing,
// dropping short tokens, masked fragments, pure numbers and filler words.
func MeaningfulTokens(name string) []string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '*' && r != '•' && r != '#'
	})

	seen := make(map[string]struct{}, len(fields))
	var tokens []string
	for _, f := range fields {
		if len([]rune(f)) < 3 || isMaskFragment(f) || isNumeric(f) {
			continue
		}
		if _, filler := fillerWords[f]; filler {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}

// isMaskFragment matches tokens like "xxxx", "xxx1802" or "****".
func isMaskFragment(token string) bool {
	masked := false
	for _, r := range token {
		switch {
		case r == 'x' || r == '*' || r == '•' || r == '#':
			masked = true
		case unicode.IsDigit(r):
		default:
			return false
		}
	}
	return masked
}

func isNumeric(token string) bool {
	for _, r := range token {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
