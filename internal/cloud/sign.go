package cloud

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

const contentType = "application/json"

// Signer attaches authentication headers to an outbound request.
// requestURI is the path plus encoded query exactly as sent.
type Signer interface {
	Sign(req *http.Request, requestURI string, body []byte, now time.Time)
}

// WPS3Signer implements the WPS-3 scheme: an MD5 of the body and a SHA1
// over the lowercased app key, body digest, request URI, content type and
// date.
type WPS3Signer struct {
	AppID  string
	AppKey string
}

// Sign implements Signer.
func (s WPS3Signer) Sign(req *http.Request, requestURI string, body []byte, now time.Time) {
	sum := md5.Sum(body)
	contentMD5 := hex.EncodeToString(sum[:])
	date := now.UTC().Format(http.TimeFormat)

	h := sha1.New()
	h.Write([]byte(strings.ToLower(s.AppKey) + contentMD5 + requestURI + contentType + date))

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Md5", contentMD5)
	req.Header.Set("Date", date)
	req.Header.Set("X-Auth", "WPS-3:"+s.AppID+":"+hex.EncodeToString(h.Sum(nil)))
}
