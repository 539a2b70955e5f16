package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/orgsync/internal/cloudtest"
	"github.com/roach88/orgsync/internal/model"
	"github.com/roach88/orgsync/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type      string   // Assertion type for categorization
	Expected  string   // Human-readable expected outcome
	Actual    string   // Human-readable actual outcome
	Mutations []string // Mutations in scope, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Mutations) > 0 {
		fmt.Fprintf(&buf, "\nMutations:\n")
		for i, m := range e.Mutations {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, m)
		}
	}
	return buf.String()
}

// AssertionContext provides access to the final state.
type AssertionContext struct {
	Fake  *cloudtest.Server
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertMutationContains:
		return assertMutationContains(result.mutations(a.Step), a)
	case AssertMutationOrder:
		return assertMutationOrder(result.mutations(a.Step), a)
	case AssertMutationCount:
		return assertMutationCount(result.mutations(a.Step), a)
	case AssertCloudUser:
		return assertCloudUser(actx.Fake, a)
	case AssertCloudDept:
		return assertCloudDept(actx.Fake, a)
	case AssertStaged:
		recs, err := actx.Store.ListStaged(actx.Ctx)
		if err != nil {
			return err
		}
		ids := make([]string, len(recs))
		for i, r := range recs {
			ids[i] = r.ID
		}
		return assertIDs(AssertStaged, ids, a.IDs)
	case AssertDeleted:
		recs, err := actx.Store.ListDeleted(actx.Ctx)
		if err != nil {
			return err
		}
		ids := make([]string, len(recs))
		for i, r := range recs {
			ids[i] = r.ID
		}
		return assertIDs(AssertDeleted, ids, a.IDs)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertMutationContains(mutations []string, a Assertion) error {
	for _, m := range mutations {
		if m == a.Call {
			return nil
		}
	}
	return &AssertionError{
		Type:      AssertMutationContains,
		Expected:  a.Call,
		Actual:    "not found",
		Mutations: mutations,
	}
}

// assertMutationOrder checks that the calls appear in order. Calls need
// not be adjacent.
func assertMutationOrder(mutations []string, a Assertion) error {
	next := 0
	for _, m := range mutations {
		if next < len(a.Calls) && m == a.Calls[next] {
			next++
		}
	}
	if next == len(a.Calls) {
		return nil
	}
	return &AssertionError{
		Type:      AssertMutationOrder,
		Expected:  fmt.Sprintf("calls in order: %v", a.Calls),
		Actual:    fmt.Sprintf("%s not found after %d matched", a.Calls[next], next),
		Mutations: mutations,
	}
}

// assertMutationCount counts the mutations equal to Call, or all of them
// when Call is empty.
func assertMutationCount(mutations []string, a Assertion) error {
	count := 0
	for _, m := range mutations {
		if a.Call == "" || m == a.Call {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	what := "mutations"
	if a.Call != "" {
		what = a.Call
	}
	return &AssertionError{
		Type:      AssertMutationCount,
		Expected:  fmt.Sprintf("%d x %s", a.Count, what),
		Actual:    fmt.Sprintf("%d", count),
		Mutations: mutations,
	}
}

func assertCloudUser(fake *cloudtest.Server, a Assertion) error {
	u, ok := fake.UserByThirdID(a.ThirdID)
	if a.Absent {
		if ok {
			return &AssertionError{Type: AssertCloudUser, Expected: "no account for " + a.ThirdID, Actual: "account " + u.CompanyUID}
		}
		return nil
	}
	if !ok {
		return &AssertionError{Type: AssertCloudUser, Expected: "account for " + a.ThirdID, Actual: "not found"}
	}

	actual := map[string]interface{}{
		"name":            u.Name,
		"status":          u.Status,
		"title":           u.Title,
		"phone":           u.Phone,
		"email":           u.Email,
		"employee_id":     u.EmployeeID,
		"employment_type": u.EmploymentType,
		"depts":           userDepts(fake, u),
	}
	return matchFields(AssertCloudUser, a.ThirdID, actual, a.Expect)
}

// userDepts renders the departments of u as source ids, "root" for the
// company root, sorted.
func userDepts(fake *cloudtest.Server, u model.CloudUser) []string {
	out := make([]string, 0, len(u.Depts))
	for _, ref := range u.Depts {
		out = append(out, sourceDeptID(fake, ref.ID))
	}
	sort.Strings(out)
	return out
}

func sourceDeptID(fake *cloudtest.Server, cloudID string) string {
	if cloudID == cloudtest.RootID {
		return cloudtest.RootID
	}
	if d, ok := fake.Dept(cloudID); ok && d.ExDeptID != "" {
		return d.ExDeptID
	}
	return cloudID
}

func assertCloudDept(fake *cloudtest.Server, a Assertion) error {
	d, ok := fake.DeptByExID(a.ExDeptID)
	if a.Absent {
		if ok {
			return &AssertionError{Type: AssertCloudDept, Expected: "no department for " + a.ExDeptID, Actual: "department " + d.DeptID}
		}
		return nil
	}
	if !ok {
		return &AssertionError{Type: AssertCloudDept, Expected: "department for " + a.ExDeptID, Actual: "not found"}
	}

	actual := map[string]interface{}{
		"name":   d.Name,
		"parent": sourceDeptID(fake, d.DeptPID),
		"order":  d.Order,
	}
	return matchFields(AssertCloudDept, a.ExDeptID, actual, a.Expect)
}

// matchFields compares expected against actual with subset semantics.
func matchFields(typ, id string, actual, expected map[string]interface{}) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		got, known := actual[key]
		if !known {
			return fmt.Errorf("%s %s: unsupported field %q", typ, id, key)
		}
		want := expected[key]
		if !valuesEqual(want, got) {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s.%s = %v", id, key, want),
				Actual:   fmt.Sprintf("%s.%s = %v", id, key, got),
			}
		}
	}
	return nil
}

// valuesEqual compares a YAML-decoded expectation with an actual value.
// YAML numbers decode as int and lists as []interface{}.
func valuesEqual(want, got interface{}) bool {
	switch w := want.(type) {
	case []interface{}:
		g, ok := got.([]string)
		if !ok {
			return false
		}
		ws := make([]string, len(w))
		for i, v := range w {
			ws[i] = fmt.Sprint(v)
		}
		sort.Strings(ws)
		return reflect.DeepEqual(ws, g)
	case nil:
		return reflect.ValueOf(got).IsZero()
	default:
		return fmt.Sprint(want) == fmt.Sprint(got)
	}
}

func assertIDs(typ string, actual, expected []string) error {
	a := append([]string{}, actual...)
	e := append([]string{}, expected...)
	sort.Strings(a)
	sort.Strings(e)
	if reflect.DeepEqual(a, e) {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%v", e),
		Actual:   fmt.Sprintf("%v", a),
	}
}
