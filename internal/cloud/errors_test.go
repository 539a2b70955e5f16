package cloud

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTokenExpired_Wrapped(t *testing.T) {
	err := fmt.Errorf("list users: %w", &APIError{Status: 401, Code: CodeTokenExpired})
	assert.True(t, IsTokenExpired(err))
	assert.False(t, IsDuplicateDeptName(err))
	assert.False(t, IsTokenExpired(errors.New("plain")))
}

func TestIsDuplicateDeptName(t *testing.T) {
	assert.True(t, IsDuplicateDeptName(&APIError{Status: 400, Code: CodeDuplicateDeptName}))
}

func TestCodeOf_NoCode(t *testing.T) {
	_, ok := CodeOf(&APIError{Status: 502})
	assert.False(t, ok)
}

func TestStripTable_FieldFor(t *testing.T) {
	tests := []struct {
		code  int
		field string
		ok    bool
	}{
		{CodeDuplicatePhone, FieldPhone, true},
		{CodeDuplicateEmail, FieldEmail, true},
		{CodeInvalidEmail, FieldEmail, true},
		{CodeDuplicateDeptName, "", false},
	}
	for _, tt := range tests {
		field, ok := DefaultStripTable.FieldFor(&APIError{Status: 400, Code: tt.code})
		assert.Equal(t, tt.ok, ok, "code %d", tt.code)
		assert.Equal(t, tt.field, field, "code %d", tt.code)
	}

	_, ok := DefaultStripTable.FieldFor(errors.New("network down"))
	assert.False(t, ok)
}

func TestStripTable_FieldsCountsDistinct(t *testing.T) {
	assert.Equal(t, 2, DefaultStripTable.Fields())
	assert.Equal(t, 0, StripTable{}.Fields())
}

func TestAPIError_Message(t *testing.T) {
	assert.Equal(t, "cloud api: status 400, code 10401006: phone used",
		(&APIError{Status: 400, Code: 10401006, Message: "phone used"}).Error())
	assert.Equal(t, "cloud api: status 502: Bad Gateway",
		(&APIError{Status: 502, Message: "Bad Gateway"}).Error())
}

func TestDecodeResponse(t *testing.T) {
	var out struct {
		DeptID string `json:"dept_id"`
	}
	assert.NoError(t, decodeResponse(200, []byte(`{"result":0,"dept_id":"d1"}`), &out))
	assert.Equal(t, "d1", out.DeptID)

	err := decodeResponse(200, []byte(`{"result":10401012,"msg":"dup"}`), nil)
	assert.True(t, IsDuplicateDeptName(err))

	err = decodeResponse(502, []byte(`<html>bad gateway</html>`), nil)
	var ae *APIError
	if assert.ErrorAs(t, err, &ae) {
		assert.Equal(t, 502, ae.Status)
		assert.Equal(t, "<html>bad gateway</html>", ae.Body)
	}
}
