package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Fingerprint hashes an endpoint and request payload into a stable key
// component. The payload is JSON encoded; struct field order makes the
// encoding deterministic.
func Fingerprint(endpoint string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return FingerprintBytes(endpoint, body), nil
}

// FingerprintBytes hashes an already encoded request body.
func FingerprintBytes(endpoint string, body []byte) string {
	normalized := "endpoint:" + strings.TrimSpace(endpoint) + "|body:" + string(body)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
