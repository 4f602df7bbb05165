package merchant

import (
	"regexp"
	"sort"
	"strings"
)

var (
	suffixPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(ltd|limited|inc|incorporated|llc|plc|corp|corporation|co|company)\b`),
		regexp.MustCompile(`\b(uk|usa|us|eu|int|intl|international)\b`),
		regexp.MustCompile(`\b(online|store|shop|retail|services?)\b`),
	}
	specialChars    = regexp.MustCompile(`[^a-z0-9\s]`)
	standaloneDigit = regexp.MustCompile(`\b\d+\b`)
)

// NormalizeMerchantText reduces a raw merchant string to the form used for
// matching: lowercase, without company suffixes, region or retail words,
// punctuation and store numbers.
func NormalizeMerchantText(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ToLower(text)
	for _, re := range suffixPatterns {
		text = re.ReplaceAllString(text, "")
	}
	text = specialChars.ReplaceAllString(text, " ")
	text = standaloneDigit.ReplaceAllString(text, "")

	return strings.Join(strings.Fields(text), " ")
}

// BuildCanonicalMerchants normalises raw merchant strings and keeps those seen
// at least minCount times, most frequent first. Ties keep first-seen order.
func BuildCanonicalMerchants(raw []string, minCount int) []string {
	counts := make(map[string]int)
	var order []string
	for _, r := range raw {
		if r == "" {
			continue
		}
		n := NormalizeMerchantText(r)
		if n == "" {
			continue
		}
		if _, seen := counts[n]; !seen {
			order = append(order, n)
		}
		counts[n]++
	}

	canonical := make([]string, 0, len(order))
	for _, name := range order {
		if counts[name] >= minCount {
			canonical = append(canonical, name)
		}
	}

	sort.SliceStable(canonical, func(i, j int) bool {
		return counts[canonical[i]] > counts[canonical[j]]
	})
	return canonical
}
