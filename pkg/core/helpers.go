package core

import (
	"strings"
)

// Between - return substring between sub1 and sub2, sub2 may be missing at the end of s
func Between(s, sub1, sub2 string) string {
	i := strings.Index(s, sub1)
	if i < 0 {
		return ""
	}
	s = s[i+len(sub1):]

	if i = strings.Index(s, sub2); i >= 0 {
		return s[:i]
	}

	return s
}
