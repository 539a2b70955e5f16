package model

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)
	emailPattern = regexp.MustCompile(`[a-z0-9]+@[a-z]+\.[a-z]{2,3}`)
)

const (
	phoneLength      = 11
	employeeIDLength = 20
)

// NormalizeName trims surrounding space and applies NFC so that names
// typed on different systems compare equal.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// VerifyPhone returns the mobile number the cloud accepts, or "" when the
// value cannot be one. Longer values are cut to 11 digits first.
func VerifyPhone(phone string) string {
	phone = truncateRunes(phone, phoneLength)
	if phonePattern.MatchString(phone) {
		return phone
	}
	return ""
}

// VerifyEmail returns email when it looks deliverable, else "".
func VerifyEmail(email string) string {
	if emailPattern.MatchString(email) {
		return email
	}
	return ""
}

// TruncateEmployeeID cuts an employee id to the cloud's column width.
func TruncateEmployeeID(id string) string {
	return truncateRunes(id, employeeIDLength)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
