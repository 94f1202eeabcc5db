package normalize

import (
	"net/url"
	"sort"
	"strings"
)

// CanonicalURL lower-cases scheme and host, drops the fragment and tracking
// parameters, and sorts the query so the same posting linked two ways
// produces one key. Relative or unparseable URLs yield "".
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") ||
			lk == "gclid" || lk == "fbclid" || lk == "msclkid" ||
			lk == "mc_cid" || lk == "mc_eid" ||
			lk == "mkt_tok" || lk == "ref" || lk == "source" {
			q.Del(k)
		}
	}

	if strings.Contains(u.Host, "linkedin.com") {
		keep := url.Values{}
		if v := q.Get("currentJobId"); v != "" {
			keep.Set("currentJobId", v)
		}
		q = keep
	}

	for k := range q {
		sort.Strings(q[k])
	}
	// Encode sorts by key.
	u.RawQuery = q.Encode()
	return u.String()
}
