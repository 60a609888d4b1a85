package monitor

import "strings"

// CheckKeywords returns the keywords that occur in text, matched as
// case-insensitive substrings. Keywords keep their configured spelling in
// the result. Empty text matches nothing.
func CheckKeywords(text string, keywords []string) []string {
	if text == "" || len(keywords) == 0 {
		return nil
	}
	lower := strings.ToLower(text)

	var matched []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}
