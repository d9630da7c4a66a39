package crypto

import (
	"encoding/base64"
	"strings"
)

// ToBase64 encodes bytes to standard base64 with padding.
// Every binary envelope field uses this encoding.
func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes base64 in any of the common alphabets, with or
// without padding. Legacy envelopes were written by several encoders.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)

	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}

	data, err = base64.RawStdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}

	data, err = base64.URLEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}

	return base64.RawURLEncoding.DecodeString(s)
}
