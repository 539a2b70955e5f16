package orgtree

import "github.com/roach88/orgsync/internal/model"

// BuildTree assembles flat rows into a tree and returns the node for rootID.
//
// ids extracts (id, parent id) from a row and factory builds the node for it.
// A row whose parent has not been seen yet hangs off a placeholder; when the
// parent's own row arrives later its data fills the placeholder and the
// children already attached are kept. Rows with id == pid are dropped.
// Returns nil when rootID is neither a row nor a referenced parent.
func BuildTree[R any](rootID string, rows []R, ids func(R) (id, pid string), factory func(R) *model.DeptNode) *model.DeptNode {
	nodes := make(map[string]*model.DeptNode, len(rows)+1)
	attached := make(map[string]bool, len(rows))

	lookup := func(id string) *model.DeptNode {
		n, ok := nodes[id]
		if !ok {
			n = &model.DeptNode{}
			nodes[id] = n
		}
		return n
	}

	for _, row := range rows {
		id, pid := ids(row)
		if id == pid {
			continue
		}

		node := lookup(id)
		children := node.Children
		*node = *factory(row)
		node.Children = append(children, node.Children...)

		if attached[id] {
			continue
		}
		parent := lookup(pid)
		parent.Children = append(parent.Children, node)
		attached[id] = true
	}

	return nodes[rootID]
}

// Walk visits every node of the tree in pre-order.
func Walk(root *model.DeptNode, visit func(*model.DeptNode)) {
	if root == nil {
		return
	}
	stack := []*model.DeptNode{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(n)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}
