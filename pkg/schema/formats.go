package schema

import (
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// FormatFunc reports whether a string has a named format.
type FormatFunc func(string) bool

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var uriSchemes = map[string]bool{"http": true, "https": true, "ftp": true, "ws": true, "wss": true}

func builtinFormats() map[string]FormatFunc {
	return map[string]FormatFunc{
		"email": emailPattern.MatchString,
		"uri": func(s string) bool {
			u, err := url.Parse(s)
			return err == nil && uriSchemes[u.Scheme] && u.Host != ""
		},
		"uuid": func(s string) bool {
			// uuid.Parse also accepts braces and urn prefixes.
			if len(s) != 36 {
				return false
			}
			_, err := uuid.Parse(s)
			return err == nil
		},
		"date": func(s string) bool {
			_, err := time.Parse(time.DateOnly, s)
			return err == nil
		},
		"datetime": func(s string) bool {
			_, err := time.Parse(time.RFC3339, s)
			return err == nil
		},
	}
}
