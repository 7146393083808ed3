package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Key derives a deterministic cache key from a request's method, URL, and
// the identifier-scoped parameters that affect the response. Parameters
// are sorted so argument order never changes the key.
func Key(method, url string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(url)

	if len(params) > 0 {
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			b.WriteByte('\n')
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(params[name])
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
