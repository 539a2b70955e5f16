package reconcile

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/roach88/orgsync/internal/cloud"
)

const bindBatchSize = 100

// ExIDStats counts the outcome of BindDeptExIDs.
type ExIDStats struct {
	Bound    int `json:"bound"`
	Conflict int `json:"conflict"`
	Missing  int `json:"missing"`
	Failed   int `json:"failed"`
}

// BindDeptExIDs writes the source id into the ex_dept_id of every cloud
// department the mirror maps to but which carries no ex id yet. Departments
// already bound to another source id are reported and left alone.
func (s *Service) BindDeptExIDs(ctx context.Context) (ExIDStats, error) {
	var stats ExIDStats

	rows, err := s.store.ReadAllDepts(ctx)
	if err != nil {
		return stats, fmt.Errorf("bind ex ids: %w", err)
	}
	byCloudID := make(map[string]string, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.CloudDeptID == "" || r.DeptID == s.rootID() {
			continue
		}
		byCloudID[r.CloudDeptID] = r.DeptID
		ids = append(ids, r.CloudDeptID)
	}

	for batch := range slices.Chunk(ids, bindBatchSize) {
		depts, err := s.cloud.DeptsByIDs(ctx, batch)
		if err != nil {
			return stats, fmt.Errorf("bind ex ids: %w", err)
		}
		found := make(map[string]bool, len(depts))
		for _, d := range depts {
			found[d.DeptID] = true
			want := byCloudID[d.DeptID]
			switch d.ExDeptID {
			case want:
				continue
			case "":
			default:
				s.logger.Warn("department bound to another source id",
					zap.String("cloud_dept_id", d.DeptID),
					zap.String("ex_dept_id", d.ExDeptID),
					zap.String("dept_id", want),
				)
				stats.Conflict++
				continue
			}
			if err := s.cloud.UpdateDept(ctx, d.DeptID, cloud.DeptPatch{ExDeptID: &want}); err != nil {
				s.logger.Warn("ex id not written", zap.String("cloud_dept_id", d.DeptID), zap.Error(err))
				stats.Failed++
				continue
			}
			stats.Bound++
		}
		for _, id := range batch {
			if !found[id] {
				s.logger.Warn("mapped department missing on cloud",
					zap.String("cloud_dept_id", id),
					zap.String("dept_id", byCloudID[id]),
				)
				stats.Missing++
			}
		}
	}

	s.logger.Info("department ex ids bound",
		zap.Int("bound", stats.Bound),
		zap.Int("conflict", stats.Conflict),
		zap.Int("missing", stats.Missing),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}
