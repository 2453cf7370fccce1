// Package protocol implements the memcache text protocol as spoken by the server.
//
// The protocol is line oriented. Every command is a single line terminated by
// CRLF; storage commands are followed by a data block of exactly <bytes>
// octets, again terminated by CRLF:
//
//	set <key> <flags> <exptime> <bytes>\r\n
//	<data block>\r\n
//
// Example usage:
//
//	req := protocol.NewRequest()
//	if err := req.Push([]byte("set greeting 0 0 5\r\n")); err != nil {
//		return protocol.ClientError(err)
//	}
//	if !req.IsComplete() {
//		// read req.BytesToRead()+len(protocol.Newline) more bytes
//		_ = req.Push([]byte("hello\r\n"))
//	}
//
// The protocol supports the following commands:
//   - Retrieval: get
//   - Storage: set, add, replace, append, prepend
//   - Expiration: touch
//   - Arithmetic: incr, decr
//   - Removal: delete, flush_all
//   - Connection: quit
package protocol

import (
	"strconv"
	"strings"
)

// Newline terminates every command line, data block and response line.
const Newline = "\r\n"

// Protocol limits
const (
	MaxKeyLength   = 250
	DefaultMaxLine = 2048
	// DefaultMaxItemSize caps the data block of a storage command.
	DefaultMaxItemSize = 1024 * 1024
	// RelativeExptimeLimit is the largest exptime treated as seconds from now;
	// anything above it is an absolute Unix timestamp.
	RelativeExptimeLimit = 60 * 60 * 24 * 30
)

// Response tokens
const (
	RespStored    = "STORED"
	RespNotStored = "NOT_STORED"
	RespDeleted   = "DELETED"
	RespNotFound  = "NOT_FOUND"
	RespTouched   = "TOUCHED"
	RespEnd       = "END"
	RespOK        = "OK"
	RespValue     = "VALUE"

	RespClientError = "CLIENT_ERROR"
	// RespUnknownState is written whenever a connection ends in a state the
	// handler cannot recover from.
	RespUnknownState = "SERVER ERROR unknown state"
)

// Response is the outcome of one command: the wire text (without the final
// newline) and what the connection should do next.
type Response struct {
	Data  string
	State ConnectionState
}

// Value appends one "VALUE <key> <flags> <bytes>" block to b.
func Value(b *strings.Builder, key string, flags uint32, data []byte) {
	b.WriteString(RespValue)
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(flags), 10))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(len(data)))
	b.WriteString(Newline)
	b.Write(data)
	b.WriteString(Newline)
}
