package securestore

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

const (
	DefaultScannableMaxAge = 5 * time.Minute
	ScannableVersion       = "1.0"

	keyIssuedAt = "timestamp"
	keyVersion  = "version"
)

// EncryptForScannable stamps payload with its issue time and format version
// and returns a base64 token suitable for a QR code. payload must marshal to
// a JSON object.
func (c *Cipher) EncryptForScannable(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", ErrMalformedEnvelope
	}
	issued, _ := json.Marshal(c.now().UnixMilli())
	version, _ := json.Marshal(ScannableVersion)
	fields[keyIssuedAt] = issued
	fields[keyVersion] = version

	text, err := c.EncryptForStorage(fields)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString([]byte(text)), nil
}

// DecryptFromScannable decodes a token produced by EncryptForScannable into
// out and returns its issue time. Tokens older than the configured maximum
// age yield ErrExpiredScannable.
func (c *Cipher) DecryptFromScannable(token string, out any) (time.Time, error) {
	text, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		c.record("decrypt", "malformed")
		return time.Time{}, ErrMalformedEnvelope
	}
	var fields map[string]json.RawMessage
	if err := c.DecryptFromStorage(string(text), &fields); err != nil {
		return time.Time{}, err
	}
	var issuedMs int64
	var version string
	if err := json.Unmarshal(fields[keyIssuedAt], &issuedMs); err != nil {
		return time.Time{}, ErrMalformedEnvelope
	}
	if err := json.Unmarshal(fields[keyVersion], &version); err != nil || version != ScannableVersion {
		return time.Time{}, ErrMalformedEnvelope
	}
	issuedAt := time.UnixMilli(issuedMs)
	if age := c.now().Sub(issuedAt); age > c.maxScannableAge {
		c.record("scannable", "expired")
		c.logger.Debug("scannable payload expired", "component", "securestore", "age_ms", age.Milliseconds())
		return issuedAt, ErrExpiredScannable
	}
	if out != nil {
		raw, err := json.Marshal(fields)
		if err != nil {
			return issuedAt, err
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return issuedAt, ErrMalformedEnvelope
		}
	}
	return issuedAt, nil
}
