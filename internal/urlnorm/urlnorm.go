// Package urlnorm normalizes URLs for use in dedup keys.
package urlnorm

import (
	"net/url"
	"sort"
	"strings"
)

// Query parameters that are tracking or cache-busting noise and carry no
// identity for deduplication purposes.
var noiseParams = map[string]struct{}{
	// cache busting
	"_": {}, "__": {}, "cb": {}, "t": {}, "ts": {}, "timestamp": {},
	"nocache": {}, "rand": {}, "random": {},
	// UTM tracking
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {},
	"utm_content": {}, "utm_id": {},
	// social / ad click tracking
	"fbclid": {}, "gclid": {}, "gclsrc": {}, "dclid": {}, "msclkid": {}, "twclid": {},
	// email tracking
	"mc_cid": {}, "mc_eid": {}, "_hsenc": {}, "_hsmi": {},
	// misc
	"oly_enc_id": {}, "oly_anon_id": {}, "_openstat": {}, "yclid": {}, "spm": {},
}

// Normalize strips the fragment and noise query parameters and sorts the
// remaining parameters so equivalent URLs produce the same key. Input that
// is not an absolute URL is returned unchanged.
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Scheme == "" || u.Host == "" {
		return raw
	}

	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		if _, noise := noiseParams[strings.ToLower(k)]; noise {
			delete(q, k)
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		u.RawQuery = ""
	} else {
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			for _, v := range q[k] {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}

	u.Fragment = ""
	return u.String()
}
