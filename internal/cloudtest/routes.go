package cloudtest

import (
	"net/http"
	"strings"

	"github.com/roach88/orgsync/internal/model"
)

const (
	deptsPath      = "/plus/v1/company/depts"
	usersPath      = "/plus/v1/company/company_users"
	batchUsersPath = "/plus/v1/batch/company/company_users"
	groupsPath     = "/kopen/plus/v2/open/dev/groups"
	spacesPath     = "/kopen/plus/v2/open/dev/spaces"
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(pattern string, authenticated bool, h func(http.ResponseWriter, *http.Request, map[string]any)) {
		mux.Handle(pattern, s.wrap(authenticated, h))
	}

	handle("GET /oauthapi/v3/inner/company/token", false, s.issueToken)

	handle("GET "+deptsPath+"/{id}/children", true, s.listChildren)
	handle("GET "+deptsPath+"/by-ex-dept-ids", true, s.deptsByExID)
	handle("GET /plus/v1/batch/company/depts", true, s.deptsByIDs)
	handle("POST "+deptsPath, true, s.createDept)
	handle("PUT "+deptsPath+"/{id}", true, s.updateDept)
	handle("DELETE "+deptsPath+"/{id}", true, s.deleteDept)
	handle("GET "+deptsPath+"/{id}/company_users", true, s.listDeptUsers)
	handle("POST "+deptsPath+"/{id}/company_users/{uid}", true, s.addMember)
	handle("DELETE "+deptsPath+"/{id}/company_users/{uid}", true, s.removeMember)

	handle("GET "+usersPath, true, s.listUsers)
	handle("POST "+usersPath, true, s.createUser)
	handle("PUT "+usersPath+"/{uid}", true, s.updateUser)
	handle("DELETE "+usersPath+"/{uid}", true, s.deleteUser)
	handle("POST "+usersPath+"/{uid}/third-bind", true, s.thirdBind)
	handle("POST "+usersPath+"/by-third-union-ids", true, s.usersByThirdIDs)
	handle("GET "+batchUsersPath, true, s.usersByIDs)
	handle("PUT "+batchUsersPath+"/enable", true, s.setStatus(model.StatusActive))
	handle("PUT "+batchUsersPath+"/disable", true, s.setStatus(model.StatusDisabled))
	handle("PUT /kopen/v1/dev/company/users/active/batch", true, s.activateUsers)

	handle("GET "+groupsPath, true, s.listGroups)
	handle("POST "+groupsPath, true, s.createGroup)
	handle("GET "+spacesPath+"/usage/users/{uid}", true, s.userUsage)
	handle("GET "+spacesPath+"/quota/company", true, s.companyQuota)
	return mux
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	if r.URL.Query().Get("app_id") != s.appID {
		fail(w, http.StatusUnauthorized, 401, "unknown app")
		return
	}
	s.tokenSeq++
	token := s.newID("token")
	s.tokens[token] = true
	writeJSON(w, http.StatusOK, map[string]any{"company_token": token, "expires_in": 7200})
}

func (s *Server) listChildren(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	id := r.PathValue("id")
	recursive := r.URL.Query().Get("recursive") == "true"

	var out []model.CloudDept
	frontier := []string{id}
	for len(frontier) > 0 {
		parent := frontier[0]
		frontier = frontier[1:]
		var level []model.CloudDept
		for _, did := range s.deptOrder {
			if d := s.depts[did]; d.DeptPID == parent && d.DeptID != parent {
				level = append(level, *d)
			}
		}
		sortedDepts(level)
		out = append(out, level...)
		if recursive {
			for _, d := range level {
				frontier = append(frontier, d.DeptID)
			}
		}
	}
	ok(w, map[string]any{"depts": page(r, out)})
}

func (s *Server) deptsByExID(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	want := make(map[string]bool)
	for _, id := range strings.Split(r.URL.Query().Get("ex_dept_ids"), ",") {
		want[id] = true
	}
	out := []model.CloudDept{}
	for _, id := range s.deptOrder {
		if d := s.depts[id]; d.ExDeptID != "" && want[d.ExDeptID] {
			out = append(out, *d)
		}
	}
	ok(w, map[string]any{"depts": out})
}

func (s *Server) deptsByIDs(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	out := []model.CloudDept{}
	for _, id := range strings.Split(r.URL.Query().Get("dept_ids"), ",") {
		if d, found := s.depts[id]; found {
			out = append(out, *d)
		}
	}
	ok(w, map[string]any{"depts": out})
}

func (s *Server) siblingNamed(parent, name, except string) bool {
	for _, id := range s.deptOrder {
		d := s.depts[id]
		if d.DeptPID == parent && d.Name == name && d.DeptID != except {
			return true
		}
	}
	return false
}

func (s *Server) createDept(w http.ResponseWriter, _ *http.Request, body map[string]any) {
	pid := str(body, "dept_pid")
	name := str(body, "name")
	if _, found := s.depts[pid]; !found {
		fail(w, http.StatusBadRequest, CodeNotFound, "parent dept not found")
		return
	}
	if s.siblingNamed(pid, name, "") {
		fail(w, http.StatusBadRequest, CodeDuplicateDeptName, "dept name exists")
		return
	}
	order, _ := num(body, "order")
	d := model.CloudDept{
		DeptID:   s.newID("dept"),
		DeptPID:  pid,
		Name:     name,
		ExDeptID: str(body, "ex_dept_id"),
		Order:    order,
	}
	s.putDept(d, model.DeptTypeSynced)
	ok(w, map[string]any{"dept_id": d.DeptID})
}

func (s *Server) updateDept(w http.ResponseWriter, r *http.Request, body map[string]any) {
	d, found := s.depts[r.PathValue("id")]
	if !found {
		fail(w, http.StatusBadRequest, CodeNotFound, "dept not found")
		return
	}
	pid := d.DeptPID
	if p, set := body["dept_pid"].(string); set {
		if _, found := s.depts[p]; !found {
			fail(w, http.StatusBadRequest, CodeNotFound, "parent dept not found")
			return
		}
		pid = p
	}
	name := d.Name
	if n, set := body["name"].(string); set {
		name = n
	}
	if (name != d.Name || pid != d.DeptPID) && s.siblingNamed(pid, name, d.DeptID) {
		fail(w, http.StatusBadRequest, CodeDuplicateDeptName, "dept name exists")
		return
	}
	d.Name = name
	d.DeptPID = pid
	if order, set := num(body, "order"); set {
		d.Order = order
	}
	if ex, set := body["ex_dept_id"].(string); set {
		d.ExDeptID = ex
	}
	ok(w, nil)
}

func (s *Server) deleteDept(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	id := r.PathValue("id")
	if _, found := s.depts[id]; !found {
		fail(w, http.StatusBadRequest, CodeNotFound, "dept not found")
		return
	}
	for _, did := range s.deptOrder {
		if s.depts[did].DeptPID == id {
			fail(w, http.StatusBadRequest, CodeDeptNotEmpty, "dept has children")
			return
		}
	}
	if len(s.members(id)) > 0 {
		fail(w, http.StatusBadRequest, CodeDeptNotEmpty, "dept has members")
		return
	}
	delete(s.depts, id)
	delete(s.deptTypes, id)
	s.deptOrder = remove(s.deptOrder, id)
	ok(w, nil)
}

func (s *Server) members(deptID string) []model.CloudUser {
	out := []model.CloudUser{}
	for _, uid := range s.userOrder {
		u := s.users[uid]
		for _, d := range u.Depts {
			if d.ID == deptID {
				out = append(out, cloneUser(u))
				break
			}
		}
	}
	return out
}

func (s *Server) listDeptUsers(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	statuses := statusSet(r, model.AllStatuses)
	out := []model.CloudUser{}
	for _, u := range s.members(r.PathValue("id")) {
		if statuses[u.Status] {
			out = append(out, u)
		}
	}
	ok(w, map[string]any{"company_users": page(r, out)})
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	d, dfound := s.depts[r.PathValue("id")]
	u, ufound := s.users[r.PathValue("uid")]
	if !dfound || !ufound {
		fail(w, http.StatusBadRequest, CodeNotFound, "dept or user not found")
		return
	}
	for _, ref := range u.Depts {
		if ref.ID == d.DeptID {
			ok(w, nil)
			return
		}
	}
	u.Depts = append(u.Depts, model.CloudDeptRef{ID: d.DeptID, Name: d.Name})
	ok(w, nil)
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	u, found := s.users[r.PathValue("uid")]
	if !found {
		fail(w, http.StatusBadRequest, CodeNotFound, "user not found")
		return
	}
	id := r.PathValue("id")
	kept := u.Depts[:0]
	for _, ref := range u.Depts {
		if ref.ID != id {
			kept = append(kept, ref)
		}
	}
	u.Depts = kept
	ok(w, nil)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	statuses := statusSet(r, model.AllStatuses)
	out := []model.CloudUser{}
	for _, uid := range s.userOrder {
		if u := s.users[uid]; statuses[u.Status] {
			out = append(out, cloneUser(u))
		}
	}
	ok(w, map[string]any{"company_users": page(r, out)})
}

// contactTaken reports whether another account already uses value for
// field.
func (s *Server) contactTaken(field, value, except string) bool {
	if value == "" {
		return false
	}
	for _, uid := range s.userOrder {
		u := s.users[uid]
		if uid == except {
			continue
		}
		if (field == "phone" && u.Phone == value) || (field == "email" && u.Email == value) {
			return true
		}
	}
	return false
}

func (s *Server) checkContacts(w http.ResponseWriter, body map[string]any, except string) bool {
	if s.contactTaken("phone", str(body, "phone"), except) {
		fail(w, http.StatusBadRequest, CodeDuplicatePhone, "phone already used")
		return false
	}
	if s.contactTaken("email", str(body, "email"), except) {
		fail(w, http.StatusBadRequest, CodeDuplicateEmail, "email already used")
		return false
	}
	return true
}

func applyUserFields(u *model.CloudUser, body map[string]any) {
	if v, set := body["name"].(string); set {
		u.Name = v
	}
	if v, set := body["title"].(string); set {
		u.Title = v
	}
	if v, set := body["employee_id"].(string); set {
		u.EmployeeID = v
	}
	if v, set := body["employment_type"].(string); set {
		u.EmploymentType = v
	}
	if v, set := body["phone"].(string); set {
		u.Phone = v
	}
	if v, set := body["email"].(string); set {
		u.Email = v
	}
	if v, set := num(body, "role_id"); set {
		u.RoleID = v
	}
}

func (s *Server) createUser(w http.ResponseWriter, _ *http.Request, body map[string]any) {
	if str(body, "name") == "" {
		fail(w, http.StatusBadRequest, 10400001, "name required")
		return
	}
	if !s.checkContacts(w, body, "") {
		return
	}
	u := &model.CloudUser{
		CompanyUID:   s.newID("user"),
		ThirdUnionID: str(body, "third_union_id"),
		RoleID:       s.NewUserRole,
		Status:       model.StatusActive,
		Depts:        []model.CloudDeptRef{},
	}
	applyUserFields(u, body)
	s.users[u.CompanyUID] = u
	s.userOrder = append(s.userOrder, u.CompanyUID)
	ok(w, map[string]any{"company_uid": u.CompanyUID})
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request, body map[string]any) {
	u, found := s.users[r.PathValue("uid")]
	if !found {
		fail(w, http.StatusBadRequest, CodeNotFound, "user not found")
		return
	}
	if !s.checkContacts(w, body, u.CompanyUID) {
		return
	}
	applyUserFields(u, body)
	ok(w, nil)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	uid := r.PathValue("uid")
	if _, found := s.users[uid]; !found {
		fail(w, http.StatusBadRequest, CodeNotFound, "user not found")
		return
	}
	delete(s.users, uid)
	s.userOrder = remove(s.userOrder, uid)
	ok(w, nil)
}

func (s *Server) thirdBind(w http.ResponseWriter, r *http.Request, body map[string]any) {
	u, found := s.users[r.PathValue("uid")]
	if !found {
		fail(w, http.StatusBadRequest, CodeNotFound, "user not found")
		return
	}
	u.ThirdUnionID = str(body, "third_union_id")
	ok(w, nil)
}

func (s *Server) usersByThirdIDs(w http.ResponseWriter, _ *http.Request, body map[string]any) {
	want := make(map[string]bool)
	for _, id := range strings.Split(str(body, "third_union_ids"), ",") {
		want[id] = true
	}
	statuses := make(map[string]bool)
	for _, st := range strings.Split(str(body, "status"), ",") {
		statuses[st] = true
	}
	out := []model.CloudUser{}
	for _, uid := range s.userOrder {
		u := s.users[uid]
		if u.ThirdUnionID != "" && want[u.ThirdUnionID] && statuses[u.Status] {
			out = append(out, cloneUser(u))
		}
	}
	ok(w, map[string]any{"data": map[string]any{"company_users": out}})
}

func (s *Server) usersByIDs(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	statuses := statusSet(r, model.AllStatuses)
	out := []model.CloudUser{}
	for _, uid := range strings.Split(r.URL.Query().Get("company_uids"), ",") {
		if u, found := s.users[uid]; found && statuses[u.Status] {
			out = append(out, cloneUser(u))
		}
	}
	ok(w, map[string]any{"company_users": out})
}

func (s *Server) setStatus(status string) func(http.ResponseWriter, *http.Request, map[string]any) {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		for _, uid := range strings.Split(r.URL.Query().Get("company_uids"), ",") {
			if u, found := s.users[uid]; found {
				u.Status = status
			}
		}
		ok(w, nil)
	}
}

func (s *Server) activateUsers(w http.ResponseWriter, _ *http.Request, body map[string]any) {
	ids, _ := body["company_uids"].([]any)
	for _, raw := range ids {
		if uid, isStr := raw.(string); isStr {
			if u, found := s.users[uid]; found && u.Status == model.StatusNotActive {
				u.Status = model.StatusActive
			}
		}
	}
	ok(w, nil)
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	groups := s.groups[r.URL.Query().Get("dept_id")]
	if groups == nil {
		groups = []groupRecord{}
	}
	ok(w, map[string]any{"groups": groups})
}

func (s *Server) createGroup(w http.ResponseWriter, _ *http.Request, body map[string]any) {
	deptID := str(body, "dept_id")
	d, found := s.depts[deptID]
	if !found {
		fail(w, http.StatusBadRequest, CodeNotFound, "dept not found")
		return
	}
	g := groupRecord{GroupID: s.newID("group"), Name: d.Name, DeptID: deptID, Type: str(body, "type")}
	s.groups[deptID] = append(s.groups[deptID], g)
	ok(w, map[string]any{"group_id": g.GroupID, "name": g.Name, "dept_id": g.DeptID, "type": g.Type})
}

func (s *Server) userUsage(w http.ResponseWriter, r *http.Request, _ map[string]any) {
	uid := r.PathValue("uid")
	if _, found := s.users[uid]; !found {
		fail(w, http.StatusBadRequest, CodeNotFound, "user not found")
		return
	}
	ok(w, map[string]any{"used": s.usage[uid], "total": s.quota})
}

func (s *Server) companyQuota(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
	var used int64
	for _, v := range s.usage {
		used += v
	}
	ok(w, map[string]any{"used": used, "total": s.quota})
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
