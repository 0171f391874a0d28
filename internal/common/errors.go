// Package common defines shared constants and sentinel errors used across
// the client layers of phrkeeper. Callers should use errors.Is to match
// these values.
package common

import "errors"

// ErrInvalidToken is returned when a token endpoint answers without a usable
// access token.
var ErrInvalidToken = errors.New("invalid token")
