package textutil

import (
	"regexp"
	"strings"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/timezone"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizePassport strips the formatting noise travelers and the
// portal put into passport numbers so lookups match across sources.
func NormalizePassport(value string) string {
	value = strings.TrimSpace(value)
	value = whitespaceRegex.ReplaceAllString(value, " ")
	return strings.ToUpper(value)
}

// the portal is not consistent about date formats across its tables
var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"2 January 2006",
	"02 January 2006",
}

// ParseDate parses any of the date formats the portal emits. The
// second return is false when the value fits none of them.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" || value == "-" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		parsed, err := time.ParseInLocation(layout, value, timezone.Location)
		if err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
