package timing

import "netpulse/internal/config"

// Filter decides whether an observed request should be captured at all,
// based on the configured domain and resource-type include/exclude lists.
// Pure configuration, no state.
type Filter struct {
	includeDomains map[string]struct{}
	excludeDomains map[string]struct{}
	includeTypes   map[string]struct{}
	excludeTypes   map[string]struct{}
}

// NewFilter builds a Filter from the runtime configuration.
func NewFilter(cfg *config.Config) Filter {
	return Filter{
		includeDomains: toSet(cfg.IncludeDomains),
		excludeDomains: toSet(cfg.ExcludeDomains),
		includeTypes:   toSet(cfg.IncludeTypes),
		excludeTypes:   toSet(cfg.ExcludeTypes),
	}
}

func toSet(list []string) map[string]struct{} {
	if len(list) == 0 {
		return nil
	}
	s := make(map[string]struct{}, len(list))
	for _, v := range list {
		s[v] = struct{}{}
	}
	return s
}

// Allow reports whether a request for the given domain and resource type
// passes the capture lists. Exclude lists win over include lists; an empty
// include list admits everything not excluded.
func (f Filter) Allow(domain, resourceType string) bool {
	if _, excluded := f.excludeDomains[domain]; excluded {
		return false
	}
	if len(f.includeDomains) > 0 {
		if _, ok := f.includeDomains[domain]; !ok {
			return false
		}
	}
	if _, excluded := f.excludeTypes[resourceType]; excluded {
		return false
	}
	if len(f.includeTypes) > 0 {
		if _, ok := f.includeTypes[resourceType]; !ok {
			return false
		}
	}
	return true
}
