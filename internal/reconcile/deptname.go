package reconcile

import (
	"regexp"

	"github.com/roach88/orgsync/internal/model"
)

const maxDeptNameLen = 50

var (
	idPrefix       = regexp.MustCompile(`(?i)^[xyj]`)
	nameSeparators = regexp.MustCompile(`[/,|]`)
)

// DeptName returns the cloud name for n, a child of parent.
//
// Siblings sharing a name are told apart by appending the source id without
// its leading type letter. Separator characters the cloud rejects become
// step, and the result never exceeds 50 characters. parent may be nil.
func DeptName(parent, n *model.DeptNode, step string) string {
	name := []rune(n.Name)

	if parent != nil && sameNamed(parent, n.Name) > 1 {
		suffix := []rune(idPrefix.ReplaceAllString(n.DeptID, ""))
		if len(name)+len(suffix) > maxDeptNameLen {
			name = head(name, 42)
			suffix = append(tail(suffix, 5), []rune("...")...)
		}
		name = append(name, suffix...)
	}

	out := nameSeparators.ReplaceAllString(string(name), step)
	if r := []rune(out); len(r) > maxDeptNameLen {
		out = string(r[:maxDeptNameLen-3]) + "..."
	}
	return out
}

func sameNamed(parent *model.DeptNode, name string) int {
	n := 0
	for _, c := range parent.Children {
		if c.Name == name {
			n++
		}
	}
	return n
}

func head(r []rune, n int) []rune {
	if len(r) <= n {
		return r
	}
	return r[:n:n]
}

func tail(r []rune, n int) []rune {
	if len(r) <= n {
		return append([]rune(nil), r...)
	}
	return append([]rune(nil), r[len(r)-n:]...)
}

// nameInSync reports whether the cloud name matches desired, allowing for
// the suffix added when the cloud rejected desired as a duplicate.
func nameInSync(cloudName, desired string) bool {
	return cloudName == desired || cloudName == desired+duplicateSuffix
}

const duplicateSuffix = "os"
