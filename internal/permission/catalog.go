// Package permission holds the static permission catalog and the permission evaluator.
package permission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/and161185/forum-auth/internal/errs"
)

// Wildcard grants every permission.
const Wildcard = "*"

// Definition describes one catalog entry.
type Definition struct {
	Code        string `json:"code"`
	Group       string `json:"group"`
	Description string `json:"description"`
}

// Catalog is the process-wide, immutable list of permission codes.
var Catalog = []Definition{
	{"article:create", "Article", "publish articles"},
	{"article:read", "Article", "read articles"},
	{"article:delete:any", "Article", "delete any article"},
	{"article:like", "Article", "like articles"},
	{"article:updateStatus", "Article", "change own article status (draft/published/banned)"},
	{"article:updateStatus:any", "Article", "change any article status"},
	{"article:view:draft", "Article", "view draft articles"},

	{"comment:create", "Comment", "post comments"},
	{"comment:delete", "Comment", "delete own comments"},
	{"comment:delete:any", "Comment", "delete any comment"},

	{"upload:image", "Upload", "upload images"},
	{"upload:delete:any", "Upload", "delete any uploaded file"},

	{"user:editUsername", "User", "edit own profile"},
	{"user:edit:any", "User", "edit any user"},
	{"user:ban", "User", "ban users"},
	{"user:unban", "User", "unban users"},
	{"user:delete", "User", "delete user accounts"},
	{"user:view:sensitive", "User", "view sensitive user data (email)"},
	{"user:assign:role", "User", "assign roles"},
	{"user:manage:exp", "User", "manage user experience"},
	{"user:manage:point", "User", "manage user points"},

	{"board:create", "Board", "create boards"},
	{"board:edit", "Board", "edit boards"},
	{"board:delete", "Board", "delete boards"},
	{"board:manage", "Board", "manage boards"},

	{"tag:create", "Tag", "create tags"},
	{"tag:read", "Tag", "view tags"},
	{"tag:edit", "Tag", "edit tags"},
	{"tag:delete", "Tag", "delete tags"},
	{"tag:manage", "Tag", "manage tags"},

	{"role:create", "Role", "create roles"},
	{"role:read", "Role", "view roles"},
	{"role:edit", "Role", "edit roles"},
	{"role:delete", "Role", "delete roles"},
	{"role:assign", "Role", "assign roles to users"},

	{"level:manage", "Level", "manage level rules"},
	{"reward:checkin", "Reward", "daily check-in rewards"},
	{"reward:claim", "Reward", "claim rewards"},

	{"system:config", "System", "change system configuration"},
	{"system:log:view", "System", "view system logs"},
	{"system:stats:view", "System", "view system statistics"},
	{"system:backup", "System", "back up system data"},

	{"moderation:review", "Moderation", "review content"},
	{"moderation:report:view", "Moderation", "view reports"},
	{"moderation:report:handle", "Moderation", "handle reports"},
	{"moderation:content:ban", "Moderation", "ban content"},

	{Wildcard, "All", "super administrator (all permissions)"},
}

var known = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Catalog))
	for _, d := range Catalog {
		m[d.Code] = struct{}{}
	}
	return m
}()

// Known reports whether code is in the catalog.
func Known(code string) bool {
	_, ok := known[code]
	return ok
}

// Validate returns the codes normalized (deduplicated, input order kept) or a
// validation error naming every unknown code.
func Validate(codes []string) ([]string, error) {
	out := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	var invalid []string
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if !Known(c) {
			invalid = append(invalid, fmt.Sprintf("%q", c))
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(invalid) > 0 {
		return nil, errs.Validationf("invalid permissions: %s", strings.Join(invalid, ", "))
	}
	return out, nil
}

// Group is a catalog group for admin metadata.
type Group struct {
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	Permissions []Definition `json:"permissions"`
}

// Groups returns the catalog grouped by Definition.Group, ordered by first appearance.
func Groups() []Group {
	idx := map[string]int{}
	var groups []Group
	for _, d := range Catalog {
		i, ok := idx[d.Group]
		if !ok {
			i = len(groups)
			idx[d.Group] = i
			groups = append(groups, Group{Key: strings.ToLower(d.Group), Name: d.Group})
		}
		groups[i].Permissions = append(groups[i].Permissions, d)
	}
	return groups
}

// Codes returns all catalog codes sorted.
func Codes() []string {
	out := make([]string, 0, len(Catalog))
	for _, d := range Catalog {
		out = append(out, d.Code)
	}
	sort.Strings(out)
	return out
}
