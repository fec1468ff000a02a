package memory

// Scope tags a memory entry's visibility (spec §3, §4.2).
type Scope string

const (
	ScopePublic      Scope = "PUBLIC"
	ScopePrivate     Scope = "PRIVATE"
	ScopeSharedGroup Scope = "SHARED_GROUP"
)

// ScopeFilter governs which memory rows a retrieval may see.
type ScopeFilter struct {
	RequestingAgentID *string
	AgentGroups       []string
	IncludePublic     bool
}

// DefaultScopeFilter returns the zero-value filter with IncludePublic set,
// matching the spec's ScopeFilter default.
func DefaultScopeFilter() ScopeFilter {
	return ScopeFilter{IncludePublic: true}
}

// CanAccess reports whether a row with the given scope/owner/group is
// visible under this filter (spec §4.2).
func (f ScopeFilter) CanAccess(scope Scope, ownerID, groupID string) bool {
	switch scope {
	case ScopePublic:
		return f.IncludePublic
	case ScopePrivate:
		return f.RequestingAgentID != nil && *f.RequestingAgentID == ownerID
	case ScopeSharedGroup:
		if f.RequestingAgentID != nil && *f.RequestingAgentID == ownerID {
			return true
		}
		for _, g := range f.AgentGroups {
			if g == groupID {
				return true
			}
		}
		return false
	default:
		return false
	}
}
