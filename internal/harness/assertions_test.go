package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trace = []string{"POST /a", "PUT /b", "DELETE /c", "PUT /b"}

func TestAssertMutationOrder(t *testing.T) {
	assert.NoError(t, assertMutationOrder(trace, Assertion{Calls: []string{"POST /a", "DELETE /c"}}))
	assert.NoError(t, assertMutationOrder(trace, Assertion{Calls: []string{"DELETE /c", "PUT /b"}}))

	err := assertMutationOrder(trace, Assertion{Calls: []string{"DELETE /c", "POST /a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POST /a not found after 1 matched")
}

func TestAssertMutationCount(t *testing.T) {
	assert.NoError(t, assertMutationCount(trace, Assertion{Count: 4}))
	assert.NoError(t, assertMutationCount(trace, Assertion{Call: "PUT /b", Count: 2}))
	assert.NoError(t, assertMutationCount(nil, Assertion{Count: 0}))

	err := assertMutationCount(trace, Assertion{Call: "PUT /b", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 x PUT /b")
}

func TestAssertMutationContains(t *testing.T) {
	assert.NoError(t, assertMutationContains(trace, Assertion{Call: "DELETE /c"}))

	err := assertMutationContains(trace, Assertion{Call: "DELETE /a"})
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "Expected: DELETE /a")
	assert.Contains(t, msg, "[3] DELETE /c")
}

func TestResult_MutationsByStep(t *testing.T) {
	r := NewResult()
	r.Trace = []StepTrace{
		{Step: 1, Mutations: []string{"POST /a"}},
		{Step: 2, Mutations: []string{"PUT /b", "DELETE /c"}},
	}
	assert.Equal(t, []string{"PUT /b", "DELETE /c"}, r.mutations(2))
	assert.Equal(t, []string{"POST /a", "PUT /b", "DELETE /c"}, r.mutations(0))
	assert.Nil(t, r.mutations(3))
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual("Alice", "Alice"))
	assert.True(t, valuesEqual(2, 2))
	assert.True(t, valuesEqual([]interface{}{"B", "A"}, []string{"A", "B"}))
	assert.True(t, valuesEqual([]interface{}{}, []string{}))
	assert.True(t, valuesEqual(nil, ""))
	assert.False(t, valuesEqual("Alice", "Bob"))
	assert.False(t, valuesEqual([]interface{}{"A"}, "A"))
	assert.False(t, valuesEqual(nil, "x"))
}

func TestMatchFields(t *testing.T) {
	actual := map[string]interface{}{"name": "Alice", "depts": []string{"root"}}

	assert.NoError(t, matchFields(AssertCloudUser, "u1", actual, map[string]interface{}{"name": "Alice"}))

	err := matchFields(AssertCloudUser, "u1", actual, map[string]interface{}{"name": "Bob"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "u1.name = Bob")

	err = matchFields(AssertCloudUser, "u1", actual, map[string]interface{}{"shoe_size": 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported field "shoe_size"`)
}

func TestAssertIDs(t *testing.T) {
	assert.NoError(t, assertIDs(AssertStaged, []string{"b", "a"}, []string{"a", "b"}))
	assert.NoError(t, assertIDs(AssertStaged, nil, []string{}))

	err := assertIDs(AssertDeleted, []string{"a"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deleted")
}
