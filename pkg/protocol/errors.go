package protocol

import (
	"strings"

	"github.com/pkg/errors"
)

// Parser errors. Use errors.Cause to recover the sentinel from a wrapped error.
var (
	ErrEmptyRequest     = errors.New("empty request")
	ErrUnknownAction    = errors.New("unknown command")
	ErrMalformedCommand = errors.New("bad command line format")
	ErrRequestComplete  = errors.New("request already complete")
	ErrItemTooLarge     = errors.New("object too large for cache")
)

// IsProtocolError reports whether err is a client mistake that should be
// answered with CLIENT_ERROR rather than by dropping the connection.
func IsProtocolError(err error) bool {
	switch errors.Cause(err) {
	case ErrEmptyRequest, ErrUnknownAction, ErrMalformedCommand, ErrItemTooLarge:
		return true
	}
	return false
}

// ClientError renders err as a CLIENT_ERROR response line.
func ClientError(err error) string {
	reason := strings.NewReplacer("\r", " ", "\n", " ").Replace(err.Error())
	return RespClientError + " " + reason
}
