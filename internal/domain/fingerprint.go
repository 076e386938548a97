package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Query parameters that only carry tracking noise. Two URLs differing only in
// these must collapse to the same fingerprint.
var trackingParams = map[string]struct{}{
	"fbclid":   {},
	"gclid":    {},
	"mc_cid":   {},
	"mc_eid":   {},
	"ref":      {},
	"referrer": {},
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if _, ok := trackingParams[k]; ok {
		return true
	}
	return strings.HasPrefix(k, "utm")
}

// CanonicalURL normalizes a raw URL: trims whitespace, lowercases scheme and
// host, drops the fragment and tracking query parameters, and removes a
// trailing slash on non-root paths. Unparseable input is returned trimmed so
// the fingerprint is still deterministic.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String()
}

// Fingerprint returns the SHA-256 hex digest of the canonical URL. It is the
// dedup and storage key: equal canonical URLs always yield equal fingerprints.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(CanonicalURL(raw)))
	return hex.EncodeToString(sum[:])
}
