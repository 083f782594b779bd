package inventory

import (
	"strings"
	"time"
)

const registryDateLayout = "20060102"

// NormalizeDate turns a raw registry InstallDate token into a calendar day.
// Only an 8-digit YYYYMMDD token that forms a real date is accepted; anything
// else, including an empty token, yields the day of now.
func NormalizeDate(raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if len(raw) != len(registryDateLayout) || !allDigits(raw) {
		return Day(now)
	}

	// YYYY MM DD at offsets 0, 4, 6; time.Parse rejects days like 20230231.
	t, err := time.Parse(registryDateLayout, raw)
	if err != nil {
		return Day(now)
	}
	return Day(t)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
