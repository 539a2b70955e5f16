package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roach88/orgsync/internal/model"
	"github.com/roach88/orgsync/internal/store"
)

type listResponse struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Total int    `json:"total"`
	Datas any    `json:"datas"`
}

type errorResponse struct {
	Msg  string `json:"msg"`
	Code int    `json:"code"`
}

type groupInfo struct {
	DeptID  string `json:"dept_id"`
	DeptPID string `json:"dept_pid"`
	Name    string `json:"name"`
	Order   int    `json:"order"`
}

// userInfo leaves unknown contact fields as JSON null.
type userInfo struct {
	UserID     string   `json:"user_id"`
	Name       string   `json:"name"`
	DeptID     []string `json:"dept_id"`
	Title      *string  `json:"title"`
	Phone      *string  `json:"phone"`
	EmployeeID *string  `json:"employee_id"`
	Email      *string  `json:"email"`
}

type addressBook struct {
	mirror Mirror
	token  string
	logger *zap.Logger
}

func (a *addressBook) authorized(c *gin.Context) bool {
	token := c.Query("token")
	if a.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
		c.JSON(http.StatusForbidden, errorResponse{Msg: "No Access", Code: http.StatusForbidden})
		return false
	}
	return true
}

func (a *addressBook) fail(c *gin.Context, err error) {
	a.logger.Error("address book read failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorResponse{
		Msg:  "An unknown error occurred",
		Code: http.StatusInternalServerError,
	})
}

// groups lists the children of dept_id, or every department when dept_id
// is empty. Self-parented roots are never listed.
func (a *addressBook) groups(c *gin.Context) {
	if !a.authorized(c) {
		return
	}
	ctx := c.Request.Context()
	deptID := c.Query("dept_id")

	var rows []store.Dept
	var err error
	if deptID == "" {
		rows, err = a.mirror.ReadAllDepts(ctx)
	} else {
		rows, err = a.mirror.ReadChildDepts(ctx, deptID)
	}
	if err != nil {
		a.fail(c, err)
		return
	}

	datas := make([]groupInfo, 0, len(rows))
	for _, d := range rows {
		if d.DeptID == d.DeptPID {
			continue
		}
		order := 0
		if d.Order != nil {
			order = *d.Order
		}
		datas = append(datas, groupInfo{DeptID: d.DeptID, DeptPID: d.DeptPID, Name: d.Name, Order: order})
	}
	a.logger.Info("address book groups", zap.String("dept_id", deptID), zap.Int("total", len(datas)))
	c.JSON(http.StatusOK, listResponse{Code: 0, Msg: "success", Total: len(datas), Datas: datas})
}

// users lists the members of dept_id, or every user when dept_id is empty.
func (a *addressBook) users(c *gin.Context) {
	if !a.authorized(c) {
		return
	}
	ctx := c.Request.Context()
	deptID := c.Query("dept_id")

	var rows []model.SourceUser
	var err error
	if deptID == "" {
		rows, err = a.mirror.ReadAllUsers(ctx)
	} else {
		rows, err = a.mirror.ReadUsersInDept(ctx, deptID)
	}
	if err != nil {
		a.fail(c, err)
		return
	}

	datas := make([]userInfo, 0, len(rows))
	for _, u := range rows {
		ids := make([]string, 0, len(u.Depts))
		for _, d := range u.Depts {
			ids = append(ids, d.ThirdDeptID)
		}
		datas = append(datas, userInfo{
			UserID:     u.ID,
			Name:       u.Name,
			DeptID:     ids,
			Title:      nullable(u.Title),
			Phone:      nullable(u.Phone),
			EmployeeID: nullable(u.EmployeeID),
			Email:      nullable(u.Email),
		})
	}
	a.logger.Info("address book users", zap.String("dept_id", deptID), zap.Int("total", len(datas)))
	c.JSON(http.StatusOK, listResponse{Code: 0, Msg: "success", Total: len(datas), Datas: datas})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
