package bitmex

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"venuelink/pkg/exception"
	"venuelink/pkg/rest"
	"venuelink/pkg/websocket"
)

// canonical is verb + path + expires + body.
func canonical(expires, method, path string, body []byte) string {
	return method + path + expires + string(body)
}

// NewSigner signs REST requests with api-key, api-expires and api-signature.
func NewSigner(cred rest.Credential) *rest.HMACSigner {
	signer := rest.NewHMACSigner(cred)
	signer.TimestampHeader = "api-expires"
	signer.Expiry = _signatureExpiry
	signer.Canonical = canonical
	return signer
}

type authRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

type authResponse struct {
	Success *bool          `json:"success"`
	Status  int            `json:"status"`
	Error   string         `json:"error"`
	Request map[string]any `json:"request"`
	Info    string         `json:"info"`
}

// Authenticator answers the realtime endpoint with authKeyExpires.
type Authenticator struct {
	Credential rest.Credential
	Now        func() time.Time
	// MaxFrames bounds the frames read while waiting for the answer.
	MaxFrames int
}

func (a Authenticator) Authenticate(ctx context.Context, conn websocket.Conn) error {
	if a.Credential.IsEmpty() {
		return errors.Wrap(exception.ErrAuthRequired, "bitmex realtime auth")
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	maxFrames := a.MaxFrames
	if maxFrames <= 0 {
		maxFrames = 4
	}

	expires := now().Add(_signatureExpiry).Unix()
	sig := rest.SignHMAC(a.Credential.Secret, "GET/realtime"+strconv.FormatInt(expires, 10))
	payload, err := sonic.ConfigFastest.Marshal(authRequest{
		Op:   "authKeyExpires",
		Args: []any{a.Credential.Key, expires, sig},
	})
	if err != nil {
		return errors.Wrap(err, "marshal auth request")
	}
	if err := conn.WriteMessage(websocket.MessageText, payload); err != nil {
		return errors.Wrap(exception.ErrTransport, err.Error())
	}

	for range maxFrames {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(exception.ErrTransport, err.Error())
		}

		var resp authResponse
		if err := sonic.ConfigFastest.Unmarshal(frame, &resp); err != nil {
			continue
		}
		if op, _ := resp.Request["op"].(string); op != "authKeyExpires" {
			continue
		}
		if resp.Success != nil && *resp.Success {
			return nil
		}
		return errors.Wrap(exception.ErrWebSocketAuthRejected, resp.Error).With("status", resp.Status)
	}
	return errors.Wrap(exception.ErrWebSocketAuthRejected, "no auth answer")
}
