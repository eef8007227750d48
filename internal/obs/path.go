package obs

import "strings"

// CanonicalPath collapses per-entity path segments so metric label
// cardinality stays bounded regardless of how many requests or users exist.
func CanonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	segs := strings.Split(p, "/")
	// Shapes: /v1/<area>/<collection>/<id> and /v1/<area>/<collection>/<id>/<action>
	if len(segs) >= 5 && segs[1] == "v1" {
		switch segs[3] {
		case "tool-additions", "tool-requests", "users":
			if segs[4] != "" {
				segs[4] = ":id"
				return strings.Join(segs, "/")
			}
		}
	}
	return p
}
