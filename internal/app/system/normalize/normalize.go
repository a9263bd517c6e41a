// internal/app/system/normalize/normalize.go
//
// Package normalize trims and case-folds user-supplied values so that stores
// and handlers compare like with like.
package normalize

import "strings"

// Email trims whitespace and lowercases an email address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Emails normalizes each address, drops empties and removes duplicates while
// keeping first-seen order.
func Emails(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, e := range in {
		e = Email(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// Name trims whitespace. Case is preserved.
func Name(s string) string {
	return strings.TrimSpace(s)
}

// Role trims and lowercases a role value.
func Role(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
