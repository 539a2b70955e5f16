package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/orgsync/internal/cloud"
	"github.com/roach88/orgsync/internal/executor"
	"github.com/roach88/orgsync/internal/model"
	"github.com/roach88/orgsync/internal/orgtree"
	"github.com/roach88/orgsync/internal/store"
)

// DeptStats counts the department mutations of one sync.
type DeptStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

type frame struct {
	src   *model.DeptNode
	cloud *model.DeptNode
}

// step is the outcome of syncing one source child.
type step struct {
	next    *frame
	created bool
	updated bool
	failed  bool
}

// deptWalk is the state shared by the frames of one SyncDepts run.
type deptWalk struct {
	// bound indexes every cloud department below the root by source id.
	bound map[string]*model.DeptNode
	// parents maps a cloud department to the node it currently hangs under.
	parents map[*model.DeptNode]*model.DeptNode
	// wanted holds every source id in the source tree.
	wanted map[string]bool
	// stale collects the unmatched cloud children, deleted after the walk.
	stale []*model.DeptNode
}

func newDeptWalk(srcRoot, cloudRoot *model.DeptNode) *deptWalk {
	w := &deptWalk{
		bound:   make(map[string]*model.DeptNode),
		parents: make(map[*model.DeptNode]*model.DeptNode),
		wanted:  make(map[string]bool),
	}
	stack := []*model.DeptNode{cloudRoot}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range n.Children {
			if c.DeptID != "" {
				w.bound[c.DeptID] = c
			}
			w.parents[c] = n
			stack = append(stack, c)
		}
	}
	stack = []*model.DeptNode{srcRoot}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range n.Children {
			w.wanted[c.DeptID] = true
			stack = append(stack, c)
		}
	}
	return w
}

// detach unhooks n from its current cloud parent after a move.
func (w *deptWalk) detach(n, to *model.DeptNode) {
	if from := w.parents[n]; from != nil {
		kept := from.Children[:0]
		for _, c := range from.Children {
			if c != n {
				kept = append(kept, c)
			}
		}
		from.Children = kept
	}
	w.parents[n] = to
}

func (w *deptWalk) deletable(n *model.DeptNode) bool {
	return staleDeletable(n) && !w.wanted[n.DeptID]
}

// SyncDepts converges the cloud department tree onto the mirrored source
// tree.
//
// The trees are walked with an explicit worklist of (source, cloud) frames.
// Within a frame children are matched by source id: matched children are
// renamed or reordered when they drift, children bound elsewhere in the
// cloud tree are moved under the frame, and the rest are created. Cloud
// children left over are deleted bottom-up once the walk is done, when they
// and their subtree hold no members.
func (s *Service) SyncDepts(ctx context.Context) (DeptStats, error) {
	var stats DeptStats

	srcRoot, err := s.sourceTree(ctx)
	if err != nil {
		return stats, err
	}
	cloudRoot, err := s.cloudTree(ctx)
	if err != nil {
		return stats, err
	}

	w := newDeptWalk(srcRoot, cloudRoot)
	stack := []frame{{src: srcRoot, cloud: cloudRoot}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		next := s.syncFrame(ctx, w, f, &stats)
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}

	for _, c := range w.stale {
		if !w.deletable(c) {
			continue
		}
		stats.Deleted += s.deleteSubtree(ctx, c, w.deletable)
	}

	s.logger.Info("departments synced",
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("deleted", stats.Deleted),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

func (s *Service) syncFrame(ctx context.Context, w *deptWalk, f frame, stats *DeptStats) []frame {
	byID := make(map[string]*model.DeptNode, len(f.cloud.Children))
	for _, c := range f.cloud.Children {
		if c.DeptID != "" {
			byID[c.DeptID] = c
		}
	}
	matched := make(map[*model.DeptNode]bool, len(f.cloud.Children))

	tasks := make([]executor.Task[step], 0, len(f.src.Children))
	for i, child := range f.src.Children {
		existing := byID[child.DeptID]
		if existing != nil {
			matched[existing] = true
		}
		tasks = append(tasks, func(ctx context.Context) (step, error) {
			if existing != nil {
				return s.syncMatched(ctx, f, child, existing), nil
			}
			if elsewhere := w.bound[child.DeptID]; elsewhere != nil {
				return s.syncMoved(ctx, w, f, child, elsewhere), nil
			}
			return s.syncNew(ctx, f, child, i), nil
		})
	}
	results, _ := executor.RunBounded(ctx, 1, tasks)

	next := make([]frame, 0, len(results))
	for _, r := range results {
		if r.created {
			stats.Created++
		}
		if r.updated {
			stats.Updated++
		}
		if r.failed {
			stats.Failed++
		}
		if r.next != nil {
			next = append(next, *r.next)
		}
	}

	for _, c := range f.cloud.Children {
		if !matched[c] {
			w.stale = append(w.stale, c)
		}
	}
	return next
}

// syncMoved moves a department that is bound under another cloud parent to
// the frame's cloud department, fixing its name and order on the way.
func (s *Service) syncMoved(ctx context.Context, w *deptWalk, f frame, child, existing *model.DeptNode) step {
	desired := DeptName(f.src, child, s.cfg.DeptNameStep)
	pid := f.cloud.CloudDeptID

	patch := cloud.DeptPatch{DeptPID: &pid}
	if !nameInSync(existing.Name, desired) {
		patch.Name = &desired
	}
	if child.Order != nil && *child.Order != existing.OrderOr(0) {
		patch.Order = child.Order
	}

	err := s.cloud.UpdateDept(ctx, existing.CloudDeptID, patch)
	if err != nil && patch.Name != nil && cloud.IsDuplicateDeptName(err) {
		alt := desired + duplicateSuffix
		patch.Name = &alt
		err = s.cloud.UpdateDept(ctx, existing.CloudDeptID, patch)
	}
	if err != nil {
		s.logger.Warn("department move failed, subtree skipped",
			zap.String("dept_id", child.DeptID),
			zap.String("cloud_dept_id", existing.CloudDeptID),
			zap.String("cloud_dept_pid", pid),
			zap.Error(err),
		)
		return step{failed: true}
	}

	w.detach(existing, f.cloud)
	existing.CloudDeptPID = pid
	existing.DeptPID = f.src.DeptID
	if patch.Name != nil {
		existing.Name = *patch.Name
	}

	rec := store.Dept{
		DeptID:       child.DeptID,
		DeptPID:      f.src.DeptID,
		CloudDeptID:  existing.CloudDeptID,
		CloudDeptPID: pid,
		Name:         child.Name,
		Order:        child.Order,
	}
	if err := s.store.AddDept(ctx, rec); err != nil {
		s.logger.Warn("department mapping not recorded", zap.String("dept_id", child.DeptID), zap.Error(err))
	}
	s.logger.Info("department moved",
		zap.String("dept_id", child.DeptID),
		zap.String("cloud_dept_id", existing.CloudDeptID),
		zap.String("cloud_dept_pid", pid),
	)
	return step{next: &frame{src: child, cloud: existing}, updated: true}
}

func (s *Service) syncMatched(ctx context.Context, f frame, child, existing *model.DeptNode) step {
	desired := DeptName(f.src, child, s.cfg.DeptNameStep)

	var patch cloud.DeptPatch
	if !nameInSync(existing.Name, desired) {
		patch.Name = &desired
	}
	if child.Order != nil && *child.Order != existing.OrderOr(0) {
		patch.Order = child.Order
	}

	out := step{next: &frame{src: child, cloud: existing}}
	if patch.Empty() {
		return out
	}

	err := s.cloud.UpdateDept(ctx, existing.CloudDeptID, patch)
	if err != nil && patch.Name != nil && cloud.IsDuplicateDeptName(err) {
		alt := desired + duplicateSuffix
		patch.Name = &alt
		err = s.cloud.UpdateDept(ctx, existing.CloudDeptID, patch)
	}
	if err != nil {
		s.logger.Warn("department update failed",
			zap.String("dept_id", child.DeptID),
			zap.String("name", desired),
			zap.Error(err),
		)
		out.failed = true
		return out
	}
	s.logger.Info("department updated",
		zap.String("dept_id", child.DeptID),
		zap.String("cloud_dept_id", existing.CloudDeptID),
		zap.String("name", desired),
	)
	out.updated = true
	return out
}

func (s *Service) syncNew(ctx context.Context, f frame, child *model.DeptNode, index int) step {
	if s.cfg.NoAddDept {
		return step{}
	}
	name := DeptName(f.src, child, s.cfg.DeptNameStep)
	id, err := s.createDept(ctx, cloud.NewDept{
		Name:     name,
		DeptPID:  f.cloud.CloudDeptID,
		Order:    child.OrderOr(index),
		ExDeptID: child.DeptID,
	})
	if err != nil {
		s.logger.Warn("department create failed, subtree skipped",
			zap.String("dept_id", child.DeptID),
			zap.String("name", name),
			zap.Error(err),
		)
		return step{failed: true}
	}

	rec := store.Dept{
		DeptID:       child.DeptID,
		DeptPID:      f.src.DeptID,
		CloudDeptID:  id,
		CloudDeptPID: f.cloud.CloudDeptID,
		Name:         child.Name,
		Order:        child.Order,
	}
	if err := s.store.AddDept(ctx, rec); err != nil {
		s.logger.Warn("department mapping not recorded", zap.String("dept_id", child.DeptID), zap.Error(err))
	}
	s.logger.Info("department created",
		zap.String("dept_id", child.DeptID),
		zap.String("cloud_dept_id", id),
		zap.String("name", name),
	)
	created := &model.DeptNode{DeptID: child.DeptID, CloudDeptID: id, CloudDeptPID: f.cloud.CloudDeptID, Name: name}
	return step{next: &frame{src: child, cloud: created}, created: true}
}

// createDept creates d, retrying once with the duplicate suffix when a
// sibling already holds the name.
func (s *Service) createDept(ctx context.Context, d cloud.NewDept) (string, error) {
	id, err := s.cloud.CreateDept(ctx, d)
	if err != nil && cloud.IsDuplicateDeptName(err) {
		d.Name += duplicateSuffix
		id, err = s.cloud.CreateDept(ctx, d)
	}
	return id, err
}

func staleDeletable(n *model.DeptNode) bool {
	return n.DeptType == model.DeptTypeSynced && n.CloudDeptID != ""
}

// deleteSubtree deletes root and its descendants children first. A
// department is kept when it is not deletable, still has members, or kept
// a child. Returns the number of departments deleted.
func (s *Service) deleteSubtree(ctx context.Context, root *model.DeptNode, deletable func(*model.DeptNode) bool) int {
	type item struct {
		node     *model.DeptNode
		expanded bool
	}
	deleted := make(map[*model.DeptNode]bool)
	stack := []item{{node: root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !it.expanded {
			stack = append(stack, item{node: it.node, expanded: true})
			for _, c := range it.node.Children {
				stack = append(stack, item{node: c})
			}
			continue
		}

		n := it.node
		if !deletable(n) {
			continue
		}
		if keptChild(n, deleted) {
			s.logger.Info("department kept, child remains", zap.String("cloud_dept_id", n.CloudDeptID), zap.String("name", n.Name))
			continue
		}
		members, err := s.cloud.ListDeptUsers(ctx, n.CloudDeptID)
		if err != nil {
			s.logger.Warn("department members unreadable", zap.String("cloud_dept_id", n.CloudDeptID), zap.Error(err))
			continue
		}
		if len(members) > 0 {
			s.logger.Info("department kept, has members",
				zap.String("cloud_dept_id", n.CloudDeptID),
				zap.String("name", n.Name),
				zap.Int("members", len(members)),
			)
			continue
		}
		if err := s.cloud.DeleteDept(ctx, n.CloudDeptID); err != nil {
			s.logger.Warn("department delete failed", zap.String("cloud_dept_id", n.CloudDeptID), zap.Error(err))
			continue
		}
		if n.DeptID != "" {
			if err := s.store.DeleteDept(ctx, n.DeptID); err != nil {
				s.logger.Warn("department mapping not removed", zap.String("dept_id", n.DeptID), zap.Error(err))
			}
		}
		s.logger.Info("department deleted", zap.String("cloud_dept_id", n.CloudDeptID), zap.String("name", n.Name))
		deleted[n] = true
	}
	return len(deleted)
}

func keptChild(n *model.DeptNode, deleted map[*model.DeptNode]bool) bool {
	for _, c := range n.Children {
		if !deleted[c] {
			return true
		}
	}
	return false
}

// sourceTree builds the source department tree from the mirror.
func (s *Service) sourceTree(ctx context.Context) (*model.DeptNode, error) {
	rootID := s.rootID()
	if rootID == "" {
		return nil, fmt.Errorf("source tree: no root id configured")
	}
	rows, err := s.store.ReadAllDepts(ctx)
	if err != nil {
		return nil, fmt.Errorf("source tree: %w", err)
	}
	root := orgtree.BuildTree(rootID, rows,
		func(d store.Dept) (string, string) { return d.DeptID, d.DeptPID },
		func(d store.Dept) *model.DeptNode {
			return &model.DeptNode{
				DeptID:       d.DeptID,
				DeptPID:      d.DeptPID,
				CloudDeptID:  d.CloudDeptID,
				CloudDeptPID: d.CloudDeptPID,
				Name:         d.Name,
				Order:        d.Order,
			}
		},
	)
	if root == nil {
		return nil, fmt.Errorf("source tree: root %s not found", rootID)
	}
	root.DeptID = rootID
	return root, nil
}

// cloudTree reads every cloud department bound to a source id and arranges
// them under the company root. Source ids are carried in DeptID/DeptPID and
// the bindings are written back to the mirror.
func (s *Service) cloudTree(ctx context.Context) (*model.DeptNode, error) {
	rootDept, err := s.cloud.RootDept(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloud tree: %w", err)
	}
	all, err := s.cloud.ListChildDepts(ctx, rootDept.DeptID, true)
	if err != nil {
		return nil, fmt.Errorf("cloud tree: %w", err)
	}
	bound := make([]model.CloudDept, 0, len(all))
	for _, d := range all {
		if d.ExDeptID != "" {
			bound = append(bound, d)
		}
	}

	root := orgtree.BuildTree(rootDept.DeptID, bound,
		func(d model.CloudDept) (string, string) { return d.DeptID, d.DeptPID },
		cloudNode,
	)
	if root == nil {
		root = &model.DeptNode{}
	}
	root.CloudDeptID = rootDept.DeptID
	root.CloudDeptPID = rootDept.DeptPID
	root.Name = rootDept.Name
	root.DeptID = s.rootID()

	stack := []*model.DeptNode{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range n.Children {
			c.DeptPID = n.DeptID
			stack = append(stack, c)
		}
	}

	if len(root.Children) > 0 {
		if err := s.store.InitDeptsFromCloud(ctx, root); err != nil {
			return nil, fmt.Errorf("cloud tree: %w", err)
		}
	}
	return root, nil
}

func cloudNode(d model.CloudDept) *model.DeptNode {
	deptType := model.DeptTypeSynced
	if d.ExDeptID == "" {
		deptType = model.DeptTypeCustom
	}
	return &model.DeptNode{
		DeptID:       d.ExDeptID,
		CloudDeptID:  d.DeptID,
		CloudDeptPID: d.DeptPID,
		Name:         d.Name,
		Order:        model.IntPtr(d.Order),
		DeptType:     deptType,
	}
}

// DeleteEmptyDepts deletes every cloud department below the root that has
// no members and no remaining children, bound or not. The root is never
// deleted. Returns the number of departments deleted.
func (s *Service) DeleteEmptyDepts(ctx context.Context) (int, error) {
	rootDept, err := s.cloud.RootDept(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete empty depts: %w", err)
	}
	all, err := s.cloud.ListChildDepts(ctx, rootDept.DeptID, true)
	if err != nil {
		return 0, fmt.Errorf("delete empty depts: %w", err)
	}
	root := orgtree.BuildTree(rootDept.DeptID, all,
		func(d model.CloudDept) (string, string) { return d.DeptID, d.DeptPID },
		cloudNode,
	)
	if root == nil {
		return 0, nil
	}

	deleted := 0
	for _, c := range root.Children {
		deleted += s.deleteSubtree(ctx, c, func(n *model.DeptNode) bool { return n.CloudDeptID != "" })
	}
	s.logger.Info("empty departments deleted", zap.Int("deleted", deleted))
	return deleted, nil
}
