package permission

import "github.com/and161185/forum-auth/internal/model"

// Authorize reports whether p satisfies any of the required permissions.
// An empty requirement list always allows; a principal without a role never does.
func Authorize(p *model.Principal, required []string) bool {
	if len(required) == 0 {
		return true
	}
	granted := p.Permissions()
	if granted == nil {
		return false
	}
	set := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		set[g] = struct{}{}
	}
	if _, ok := set[Wildcard]; ok {
		return true
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
