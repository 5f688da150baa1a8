package common

import (
	"encoding/base64"
	"fmt"

	apperrors "github.com/acme/campaign-engine/pkg/errors"
)

// EncodePageToken turns a driver paging state into an opaque URL-safe token.
// An exhausted cursor encodes to "".
func EncodePageToken(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(state)
}

// DecodePageToken reverses EncodePageToken. An empty token starts from the
// first page.
func DecodePageToken(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	state, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(state) == 0 {
		return nil, fmt.Errorf("%w: invalid page token", apperrors.ErrValidation)
	}
	return state, nil
}
