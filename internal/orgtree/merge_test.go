package orgtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orgsync/internal/model"
)

func TestMergeDuplicateUsers_UnionsDepts(t *testing.T) {
	d1 := model.DeptRef{ThirdDeptID: "d1"}
	d2 := model.DeptRef{ThirdDeptID: "d2"}

	got := MergeDuplicateUsers([]model.SourceUser{
		{ID: "a", Depts: []model.DeptRef{d1}},
		{ID: "a", Depts: []model.DeptRef{d2}},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.ElementsMatch(t, []model.DeptRef{d1, d2}, got[0].Depts)
}

func TestMergeDuplicateUsers_LaterScalarsWin(t *testing.T) {
	got := MergeDuplicateUsers([]model.SourceUser{
		{ID: "a", Name: "Old", Title: "Lecturer"},
		{ID: "b", Name: "Bob"},
		{ID: "a", Name: "New", Title: "Professor"},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID, "first-seen order is kept")
	assert.Equal(t, "New", got[0].Name)
	assert.Equal(t, "Professor", got[0].Title)
	assert.Equal(t, "b", got[1].ID)
}

func TestMergeDuplicateUsers_DedupByCloudIDThenThirdID(t *testing.T) {
	got := MergeDuplicateUsers([]model.SourceUser{
		{ID: "a", Depts: []model.DeptRef{{ThirdDeptID: "d1", CloudDeptID: "c1"}}},
		{ID: "a", Depts: []model.DeptRef{{ThirdDeptID: "d1-alias", CloudDeptID: "c1"}}},
		{ID: "a", Depts: []model.DeptRef{{ThirdDeptID: "d2"}}},
		{ID: "a", Depts: []model.DeptRef{{ThirdDeptID: "d2"}}},
	})

	require.Len(t, got, 1)
	assert.Equal(t, []model.DeptRef{
		{ThirdDeptID: "d1", CloudDeptID: "c1"},
		{ThirdDeptID: "d2"},
	}, got[0].Depts)
}

func TestMergeDuplicateUsers_Empty(t *testing.T) {
	assert.Empty(t, MergeDuplicateUsers(nil))
}
