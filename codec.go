package usbbridge

import (
	"encoding/base64"
	"fmt"
)

// EncodePayload turns raw bytes into the text-safe form carried across the
// bridge boundary.
func EncodePayload(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodePayload reverses EncodePayload.
func DecodePayload(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return b, nil
}
