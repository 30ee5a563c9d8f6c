package websocket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"venuelink/pkg/exception"
)

const _cramBucketLen = 5

// CRAM answers a "cram=<nonce>" challenge with
// "auth=<sha256(nonce|key)>-<bucket>" and expects "success=1".
// Fields are pipe separated key=value pairs.
type CRAM struct {
	APIKey string
	// Extra fields appended to the auth reply, e.g. encoding=json.
	Extra map[string]string
	// MaxFrames bounds how many greeting frames are skipped while waiting.
	MaxFrames int
}

// CRAMResponse computes the challenge reply value.
func CRAMResponse(nonce, apiKey string) string {
	sum := sha256.Sum256([]byte(nonce + "|" + apiKey))
	bucket := apiKey
	if len(bucket) > _cramBucketLen {
		bucket = bucket[len(bucket)-_cramBucketLen:]
	}
	return hex.EncodeToString(sum[:]) + "-" + bucket
}

func (c CRAM) Authenticate(ctx context.Context, conn Conn) error {
	if c.APIKey == "" {
		return exception.ErrAuthRequired
	}

	limit := c.MaxFrames
	if limit <= 0 {
		limit = 4
	}

	var nonce string
	for i := 0; i < limit && nonce == ""; i++ {
		fields, err := readFields(ctx, conn)
		if err != nil {
			return err
		}
		nonce = fields["cram"]
	}
	if nonce == "" {
		return errors.Wrap(exception.ErrWebSocketProtocol, "no cram challenge")
	}

	reply := []string{"auth=" + CRAMResponse(nonce, c.APIKey)}
	for k, v := range c.Extra {
		reply = append(reply, k+"="+v)
	}
	if err := conn.WriteMessage(MessageText, []byte(strings.Join(reply, "|")+"\n")); err != nil {
		return errors.Wrap(exception.ErrTransport, err.Error())
	}

	fields, err := readFields(ctx, conn)
	if err != nil {
		return err
	}
	if fields["success"] != "1" {
		return errors.Wrap(exception.ErrWebSocketAuthRejected, fields["error"])
	}

	logs.Infof("websocket: cram authenticated, session: %s", fields["session_id"])
	return nil
}

func readFields(ctx context.Context, conn Conn) (map[string]string, error) {
	_, payload, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(exception.ErrTransport, "auth timeout")
		}
		return nil, errors.Wrap(exception.ErrTransport, err.Error())
	}

	fields := make(map[string]string)
	for _, part := range strings.Split(strings.TrimSpace(string(payload)), "|") {
		k, v, ok := strings.Cut(part, "=")
		if ok {
			fields[k] = v
		}
	}
	return fields, nil
}
