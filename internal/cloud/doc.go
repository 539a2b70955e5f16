// Package cloud is a typed client for the cloud directory platform.
//
// Every call is signed through a Signer and carries a company token from a
// TokenCache. Listing endpoints are paged with a configurable page size and
// inter-page delay. Non-2xx responses and responses whose "result" field is
// nonzero are returned as *APIError so callers can classify them with
// IsTokenExpired, IsDuplicateDeptName and StripTable.
package cloud
