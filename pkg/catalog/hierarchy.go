package catalog

import (
	"sort"

	"github.com/google/uuid"
)

// BuildPermissionTree arranges a flat permission list into a forest rooted at
// permissions with no parent. Each node carries IsAssigned from the given
// assignment set. Children are sorted by name for stable output. Permissions
// whose parent is missing from the input are treated as roots.
func BuildPermissionTree(permissions []Permission, assignedIDs []uuid.UUID) []PermissionTreeNode {
	assigned := make(map[uuid.UUID]bool, len(assignedIDs))
	for _, id := range assignedIDs {
		assigned[id] = true
	}

	known := make(map[uuid.UUID]bool, len(permissions))
	for _, p := range permissions {
		known[p.ID] = true
	}

	byParent := make(map[uuid.UUID][]Permission)
	var roots []Permission
	for _, p := range permissions {
		if p.ParentID == nil || !known[*p.ParentID] {
			roots = append(roots, p)
			continue
		}
		byParent[*p.ParentID] = append(byParent[*p.ParentID], p)
	}

	var build func(perms []Permission) []PermissionTreeNode
	build = func(perms []Permission) []PermissionTreeNode {
		sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
		nodes := make([]PermissionTreeNode, 0, len(perms))
		for _, p := range perms {
			nodes = append(nodes, PermissionTreeNode{
				ID:          p.ID,
				Name:        p.Name,
				Description: p.Description,
				IsAssigned:  assigned[p.ID],
				Children:    build(byParent[p.ID]),
			})
		}
		return nodes
	}

	return build(roots)
}
