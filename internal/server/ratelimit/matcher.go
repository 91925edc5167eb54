package ratelimit

import "strings"

// TierExempt marks routes that are never limited.
const TierExempt = "exempt"

// exempt lists the health and metrics routes hit by load balancers and Prometheus.
var exempt = map[string]bool{
	"GET /health":  true,
	"GET /metrics": true,
}

// Match finds the rule for a request. Exact paths win over prefixes, and the
// longest prefix wins among prefixes. Exempt routes return a zero-quota rule.
// ok is false when no rule applies and the default quota should be used.
func Match(method, path string, rules []Rule) (rule Rule, ok bool) {
	if exempt[method+" "+path] {
		return Rule{Tier: TierExempt, Method: method, Path: path}, true
	}

	best := -1
	for i, r := range rules {
		if r.Method != method {
			continue
		}
		if r.Path == path {
			return r, true
		}
		if strings.HasSuffix(r.Path, "/") && strings.HasPrefix(path, r.Path) &&
			(best < 0 || len(r.Path) > len(rules[best].Path)) {
			best = i
		}
	}
	if best < 0 {
		return Rule{}, false
	}
	return rules[best], true
}
