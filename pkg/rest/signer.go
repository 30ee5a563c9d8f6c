package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Signer authenticates an outgoing request. body is the exact payload sent.
type Signer interface {
	Sign(req *http.Request, body []byte) error
}

// CanonicalFunc builds the string to sign.
type CanonicalFunc func(timestamp, method, path string, body []byte) string

// TimestampFirst signs timestamp + method + path + body.
func TimestampFirst(timestamp, method, path string, body []byte) string {
	return timestamp + method + path + string(body)
}

// HMACSigner signs requests with hex HMAC-SHA256 and writes key, timestamp and
// signature headers.
type HMACSigner struct {
	Credential      Credential
	KeyHeader       string
	TimestampHeader string
	SignatureHeader string
	// Expiry, when set, makes the timestamp an expiry (now + Expiry, unix
	// seconds) instead of the current unix milliseconds.
	Expiry    time.Duration
	Canonical CanonicalFunc
	Now       func() time.Time
}

// NewHMACSigner uses api-key / api-timestamp / api-signature headers.
func NewHMACSigner(cred Credential) *HMACSigner {
	return &HMACSigner{
		Credential:      cred,
		KeyHeader:       "api-key",
		TimestampHeader: "api-timestamp",
		SignatureHeader: "api-signature",
		Canonical:       TimestampFirst,
		Now:             time.Now,
	}
}

func (s *HMACSigner) Sign(req *http.Request, body []byte) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	var ts string
	if s.Expiry > 0 {
		ts = strconv.FormatInt(now().Add(s.Expiry).Unix(), 10)
	} else {
		ts = strconv.FormatInt(now().UnixMilli(), 10)
	}

	canonical := s.Canonical
	if canonical == nil {
		canonical = TimestampFirst
	}
	path := req.URL.EscapedPath()
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	req.Header.Set(s.KeyHeader, s.Credential.Key)
	req.Header.Set(s.TimestampHeader, ts)
	req.Header.Set(s.SignatureHeader, SignHMAC(s.Credential.Secret, canonical(ts, req.Method, path, body)))
	return nil
}

// SignHMAC returns hex(HMAC-SHA256(secret, message)).
func SignHMAC(secret Secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret.Reveal()))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
