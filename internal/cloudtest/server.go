// Package cloudtest runs an in-memory cloud directory platform over HTTP
// for tests. It keeps departments and accounts in maps, records every call,
// enforces the duplicate checks the real platform applies and lets tests
// inject business errors.
package cloudtest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/orgsync/internal/model"
)

// Business codes the fake emits besides the client's own classification
// codes.
const (
	CodeTokenExpired      = 10102025
	CodeDuplicatePhone    = 10401006
	CodeDuplicateDeptName = 10401012
	CodeDeptNotEmpty      = 10401015
	CodeDuplicateEmail    = 10401038
	CodeNotFound          = 10404001
)

// RootID is the cloud id of the seeded company root department.
const RootID = "root"

// Call is one recorded request.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   string
	Status int
}

// String renders the call as "METHOD path[?query] [body]". The token and
// paging parameters are left out so traces stay stable.
func (c Call) String() string {
	q := url.Values{}
	for k, v := range c.Query {
		switch k {
		case "company_token", "offset", "limit":
			continue
		}
		q[k] = v
	}
	s := c.Method + " " + c.Path
	if len(q) > 0 {
		s += "?" + q.Encode()
	}
	if c.Body != "" {
		s += " " + c.Body
	}
	return s
}

// Mutating reports whether the call changes platform state.
func (c Call) Mutating() bool {
	if c.Method == http.MethodGet {
		return false
	}
	return !strings.HasSuffix(c.Path, "/by-third-union-ids")
}

type failure struct {
	code int
	msg  string
}

// Server is the fake platform.
type Server struct {
	srv   *httptest.Server
	appID string

	mu          sync.Mutex
	depts       map[string]*model.CloudDept
	deptTypes   map[string]int
	deptOrder   []string
	users       map[string]*model.CloudUser
	userOrder   []string
	groups      map[string][]groupRecord
	usage       map[string]int64
	quota       int64
	seq         map[string]int
	tokens      map[string]bool
	tokenSeq    int
	failures    map[string][]failure
	calls       []Call
	NewUserRole int
}

type groupRecord struct {
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
	DeptID  string `json:"dept_id"`
	Type    string `json:"type"`
}

// New starts a fake platform that accepts requests signed for appID.
// The company root department is seeded with id RootID.
func New(appID string) *Server {
	s := &Server{
		appID:       appID,
		depts:       make(map[string]*model.CloudDept),
		deptTypes:   make(map[string]int),
		users:       make(map[string]*model.CloudUser),
		groups:      make(map[string][]groupRecord),
		usage:       make(map[string]int64),
		quota:       1 << 40,
		seq:         make(map[string]int),
		tokens:      make(map[string]bool),
		failures:    make(map[string][]failure),
		NewUserRole: model.RoleMember,
	}
	s.putDept(model.CloudDept{DeptID: RootID, DeptPID: "0", Name: "Company"}, model.DeptTypeSynced)
	s.srv = httptest.NewServer(s.routes())
	return s
}

// URL returns the base URL of the fake.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the fake down.
func (s *Server) Close() { s.srv.Close() }

// SeedDept adds a department as if it already existed on the platform.
func (s *Server) SeedDept(d model.CloudDept) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putDept(d, model.DeptTypeSynced)
}

// SeedCustomDept adds a manually created department.
func (s *Server) SeedCustomDept(d model.CloudDept) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putDept(d, model.DeptTypeCustom)
}

// SeedUser adds an account as if it already existed on the platform.
func (s *Server) SeedUser(u model.CloudUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	cp.Depts = append([]model.CloudDeptRef(nil), u.Depts...)
	if cp.RoleID == 0 {
		cp.RoleID = s.NewUserRole
	}
	if _, ok := s.users[cp.CompanyUID]; !ok {
		s.userOrder = append(s.userOrder, cp.CompanyUID)
	}
	s.users[cp.CompanyUID] = &cp
}

// SetUsage sets the storage used by an account.
func (s *Server) SetUsage(companyUID string, used int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[companyUID] = used
}

// FailNext makes the next request matching method and path fail with a
// business error. Failures queue up per method and path.
func (s *Server) FailNext(method, path string, code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.failures[key] = append(s.failures[key], failure{code: code, msg: msg})
}

// ExpireTokens invalidates every issued token. The next authenticated call
// is rejected with CodeTokenExpired.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]bool)
}

// TokenFetches returns how many tokens were issued.
func (s *Server) TokenFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenSeq
}

// Calls returns every recorded request.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Mutations returns the recorded state-changing requests in order.
func (s *Server) Mutations() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Call{}
	for _, c := range s.calls {
		if c.Mutating() {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Dept returns a department by cloud id.
func (s *Server) Dept(id string) (model.CloudDept, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.depts[id]
	if !ok {
		return model.CloudDept{}, false
	}
	return *d, true
}

// DeptByExID returns the department bound to a source id.
func (s *Server) DeptByExID(exID string) (model.CloudDept, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.deptOrder {
		if d := s.depts[id]; d.ExDeptID == exID {
			return *d, true
		}
	}
	return model.CloudDept{}, false
}

// Depts returns every department in creation order.
func (s *Server) Depts() []model.CloudDept {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CloudDept, 0, len(s.deptOrder))
	for _, id := range s.deptOrder {
		out = append(out, *s.depts[id])
	}
	return out
}

// Users returns every account in creation order.
func (s *Server) Users() []model.CloudUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CloudUser, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		out = append(out, cloneUser(s.users[id]))
	}
	return out
}

// UserByThirdID returns the account bound to a source id.
func (s *Server) UserByThirdID(thirdID string) (model.CloudUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.userOrder {
		if u := s.users[id]; u.ThirdUnionID == thirdID {
			return cloneUser(u), true
		}
	}
	return model.CloudUser{}, false
}

func cloneUser(u *model.CloudUser) model.CloudUser {
	cp := *u
	cp.Depts = append([]model.CloudDeptRef(nil), u.Depts...)
	return cp
}

// putDept stores d. Callers hold s.mu.
func (s *Server) putDept(d model.CloudDept, deptType int) {
	cp := d
	if _, ok := s.depts[cp.DeptID]; !ok {
		s.deptOrder = append(s.deptOrder, cp.DeptID)
	}
	s.depts[cp.DeptID] = &cp
	s.deptTypes[cp.DeptID] = deptType
}

func (s *Server) newID(prefix string) string {
	s.seq[prefix]++
	return fmt.Sprintf("%s-%d", prefix, s.seq[prefix])
}

// wrap records the call, checks the signature headers and the token, and
// applies queued failures before dispatching to h.
func (s *Server) wrap(authenticated bool, h func(w http.ResponseWriter, r *http.Request, body map[string]any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		canonical := ""
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"result": 400, "msg": "malformed body"})
				return
			}
			b, _ := json.Marshal(body)
			canonical = string(b)
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		call := Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: canonical}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			call.Status = rec.status
			s.calls = append(s.calls, call)
		}()

		sum := md5.Sum(raw)
		if r.Header.Get("Content-Md5") != hex.EncodeToString(sum[:]) ||
			!strings.HasPrefix(r.Header.Get("X-Auth"), "WPS-3:"+s.appID+":") ||
			r.Header.Get("Date") == "" {
			fail(rec, http.StatusUnauthorized, 401, "bad signature")
			return
		}
		if authenticated && !s.tokens[r.URL.Query().Get("company_token")] {
			fail(rec, http.StatusUnauthorized, CodeTokenExpired, "company token expired")
			return
		}

		key := r.Method + " " + r.URL.Path
		if q := s.failures[key]; len(q) > 0 {
			f := q[0]
			s.failures[key] = q[1:]
			fail(rec, http.StatusBadRequest, f.code, f.msg)
			return
		}
		h(rec, r, body)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, fields map[string]any) {
	out := map[string]any{"result": 0}
	for k, v := range fields {
		out[k] = v
	}
	writeJSON(w, http.StatusOK, out)
}

func fail(w http.ResponseWriter, status, code int, msg string) {
	writeJSON(w, status, map[string]any{"result": code, "msg": msg})
}

func str(body map[string]any, key string) string {
	if v, ok := body[key].(string); ok {
		return v
	}
	return ""
}

func num(body map[string]any, key string) (int, bool) {
	if v, ok := body[key].(float64); ok {
		return int(v), true
	}
	return 0, false
}

func page[T any](r *http.Request, items []T) []T {
	var offset, limit int
	fmt.Sscanf(r.URL.Query().Get("offset"), "%d", &offset)
	if _, err := fmt.Sscanf(r.URL.Query().Get("limit"), "%d", &limit); err != nil || limit <= 0 {
		limit = len(items)
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func statusSet(r *http.Request, fallback string) map[string]bool {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		raw = fallback
	}
	set := make(map[string]bool)
	for _, s := range strings.Split(raw, ",") {
		set[strings.TrimSpace(s)] = true
	}
	return set
}

func sortedDepts(depts []model.CloudDept) {
	sort.SliceStable(depts, func(i, j int) bool {
		if depts[i].Order != depts[j].Order {
			return depts[i].Order < depts[j].Order
		}
		return depts[i].DeptID < depts[j].DeptID
	})
}
