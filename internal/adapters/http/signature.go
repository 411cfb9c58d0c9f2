package httpadapter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const (
	signatureVersion = "v0"
	// Requests older than this are rejected to blunt replay of captured
	// webhook deliveries.
	defaultTimestampWindow = 5 * time.Minute
)

// SignatureVerifier checks the HMAC request signature Slack computes over
// "v0:<timestamp>:<body>" with the app's signing secret.
type SignatureVerifier struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{
		secret: []byte(secret),
		window: defaultTimestampWindow,
		now:    time.Now,
	}
}

func (v *SignatureVerifier) Verify(timestamp, signature string, body []byte) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp %q", timestamp)
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.window || age < -v.window {
		return fmt.Errorf("signature timestamp outside the accepted window")
	}

	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s:%s:", signatureVersion, timestamp)
	mac.Write(body)
	expected := signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("request signature mismatch")
	}
	return nil
}
