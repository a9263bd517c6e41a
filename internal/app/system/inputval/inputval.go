// internal/app/system/inputval/inputval.go
package inputval

import (
	"net/mail"
	"strings"
	"unicode"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IsValidEmail reports whether s is a bare email address (no display name)
// with a well-formed local part and domain. Single-label domains such as
// "localhost" are accepted.
func IsValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 || strings.ContainsAny(s, "<>") {
		return false
	}
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return false
	}
	local, domain := s[:at], s[at+1:]
	if !dotsOK(local) || !dotsOK(domain) {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Name == "" && addr.Address == s
}

func dotsOK(part string) bool {
	if strings.HasPrefix(part, ".") || strings.HasSuffix(part, ".") {
		return false
	}
	return !strings.Contains(part, "..")
}

// IsValidObjectID reports whether s (trimmed) is a 24 character hex ObjectID.
func IsValidObjectID(s string) bool {
	_, err := primitive.ObjectIDFromHex(strings.TrimSpace(s))
	return err == nil
}
