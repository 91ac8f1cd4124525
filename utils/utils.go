package utils

import (
	"regexp"
)

var (
	sanitize_re = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
)

func InString(hay *[]string, needle string) bool {
	for _, x := range *hay {
		if x == needle {
			return true
		}
	}

	return false
}

// Reduce a free-form name to something safe to use as a filename
// component.
func SanitizeFilename(name string) string {
	return sanitize_re.ReplaceAllString(name, "_")
}
