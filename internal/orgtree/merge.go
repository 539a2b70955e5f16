// Package orgtree merges duplicate source records and assembles flat
// parent/child rows into rooted department trees.
package orgtree

import "github.com/roach88/orgsync/internal/model"

// MergeDuplicateUsers collapses records sharing an ID into one.
//
// Records keep the order in which each ID was first seen. Scalar fields of a
// later record overwrite earlier ones; department lists are unioned and never
// lose entries. Two memberships are the same department when their cloud ids
// match, or, when either cloud id is empty, when their source ids match.
func MergeDuplicateUsers(users []model.SourceUser) []model.SourceUser {
	index := make(map[string]int, len(users))
	merged := make([]model.SourceUser, 0, len(users))

	for _, u := range users {
		pos, seen := index[u.ID]
		if !seen {
			u.Depts = appendDepts(nil, u.Depts)
			index[u.ID] = len(merged)
			merged = append(merged, u)
			continue
		}
		depts := appendDepts(merged[pos].Depts, u.Depts)
		u.Depts = depts
		merged[pos] = u
	}
	return merged
}

func appendDepts(dst, src []model.DeptRef) []model.DeptRef {
	for _, d := range src {
		if !containsDept(dst, d) {
			dst = append(dst, d)
		}
	}
	return dst
}

func containsDept(list []model.DeptRef, d model.DeptRef) bool {
	for _, existing := range list {
		if existing.CloudDeptID != "" && d.CloudDeptID != "" {
			if existing.CloudDeptID == d.CloudDeptID {
				return true
			}
			continue
		}
		if existing.ThirdDeptID == d.ThirdDeptID {
			return true
		}
	}
	return false
}
