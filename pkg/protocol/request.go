package protocol

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	minArgsForStorage = 5
	minArgsForKey     = 2
	minArgsForTouch   = 3
	deltaArgIndex     = 2

	// Data buffers above this capacity are not kept for the next command.
	maxRetainedData = 64 * 1024
)

type parseState uint8

const (
	awaitingCommand parseState = iota
	awaitingPayload
	complete
)

// Request accumulates one command and its data block as they arrive from a
// connection. A Request is reused for every command on a connection: call
// Reset between commands.
//
// Example:
//
//	req := NewRequest()
//	_ = req.Push([]byte("get greeting\r\n"))
//	req.IsComplete() // true
//	req.Action       // ActionGet
type Request struct {
	Action  Action
	Key     string   // first (or only) key of the command
	Keys    []string // every key named by a get
	Flags   uint32
	Exptime int64
	Bytes   uint32 // declared length of the data block
	Delta   uint64 // incr/decr amount, 1 when omitted
	Data    []byte // data block accumulated so far, without the terminator

	state       parseState
	swallow     int64
	maxItemSize int
}

// NewRequest returns an empty Request awaiting a command line that accepts
// data blocks up to DefaultMaxItemSize.
func NewRequest() *Request {
	return NewRequestWithLimit(DefaultMaxItemSize)
}

// NewRequestWithLimit returns an empty Request that rejects storage commands
// declaring more than maxItemSize data bytes.
func NewRequestWithLimit(maxItemSize int) *Request {
	if maxItemSize <= 0 {
		maxItemSize = DefaultMaxItemSize
	}
	return &Request{maxItemSize: maxItemSize}
}

// Push feeds the next chunk read from the connection. The first chunk must be
// a command line; for storage commands the following chunks are data.
func (r *Request) Push(chunk []byte) error {
	switch r.state {
	case awaitingCommand:
		return r.parseLine(chunk)
	case awaitingPayload:
		return r.appendPayload(chunk)
	default:
		return ErrRequestComplete
	}
}

// IsComplete reports whether the command and its data block (if any) have
// been fully received.
func (r *Request) IsComplete() bool {
	return r.state == complete
}

// BytesToRead returns how many data bytes are still missing, not counting the
// trailing newline.
func (r *Request) BytesToRead() int {
	if r.state != awaitingPayload {
		return 0
	}
	return int(r.Bytes) - len(r.Data)
}

// Swallow returns how many bytes the client is going to send after a
// storage command that was rejected: the declared data block plus its
// newline. The caller should read and drop them before parsing the next
// command. It is 0 when nothing has to be dropped.
func (r *Request) Swallow() int64 {
	return r.swallow
}

// Reset clears the request so the next command can be parsed. The data
// buffer is reused unless an earlier payload grew it beyond 64 KiB.
func (r *Request) Reset() {
	data := r.Data[:0]
	if cap(data) > maxRetainedData {
		data = nil
	}
	*r = Request{Data: data, maxItemSize: r.maxItemSize}
}

func (r *Request) parseLine(line []byte) error {
	fields := strings.Fields(string(bytes.TrimRight(line, Newline)))
	if len(fields) == 0 {
		return ErrEmptyRequest
	}

	action, ok := ParseAction(fields[0])
	if !ok {
		return errors.Wrapf(ErrUnknownAction, "%q", fields[0])
	}
	r.Action = action

	var err error
	switch action {
	case ActionSet, ActionAdd, ActionReplace, ActionAppend, ActionPrepend:
		err = r.parseStorage(fields)
	case ActionGet:
		err = r.parseRetrieval(fields)
	case ActionIncr, ActionDecr:
		err = r.parseArithmetic(fields)
	case ActionTouch:
		err = r.parseTouch(fields)
	case ActionDelete:
		err = r.parseKey(fields)
	}
	if err != nil {
		return err
	}

	if action.HasPayload() {
		r.state = awaitingPayload
		return nil
	}
	r.state = complete
	return nil
}

func (r *Request) parseStorage(fields []string) error {
	if len(fields) < minArgsForStorage {
		return errors.Wrapf(ErrMalformedCommand, "%s requires <key> <flags> <exptime> <bytes>", r.Action)
	}

	// Remember the data length first so the caller can skip the block if the
	// rest of the line is rejected.
	size, err := strconv.ParseUint(fields[4], 10, 32)
	if err != nil {
		return errors.Wrapf(ErrMalformedCommand, "invalid bytes %q", fields[4])
	}
	r.swallow = int64(size) + int64(len(Newline))

	limit := r.maxItemSize
	if limit <= 0 {
		limit = DefaultMaxItemSize
	}
	if size > uint64(limit) {
		return ErrItemTooLarge
	}
	if err := checkKey(fields[1]); err != nil {
		return err
	}
	flags, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return errors.Wrapf(ErrMalformedCommand, "invalid flags %q", fields[2])
	}
	exptime, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return errors.Wrapf(ErrMalformedCommand, "invalid exptime %q", fields[3])
	}

	r.Key = fields[1]
	r.Flags = uint32(flags)
	r.Exptime = exptime
	r.Bytes = uint32(size)
	r.swallow = 0
	return nil
}

func (r *Request) parseRetrieval(fields []string) error {
	if len(fields) < minArgsForKey {
		return errors.Wrap(ErrMalformedCommand, "get requires at least one key")
	}
	for _, key := range fields[1:] {
		if err := checkKey(key); err != nil {
			return err
		}
	}
	r.Key = fields[1]
	r.Keys = append(r.Keys[:0], fields[1:]...)
	return nil
}

func (r *Request) parseArithmetic(fields []string) error {
	if err := r.parseKey(fields); err != nil {
		return err
	}
	r.Delta = 1
	if len(fields) > deltaArgIndex {
		delta, err := strconv.ParseUint(fields[deltaArgIndex], 10, 64)
		if err != nil {
			return errors.Wrapf(ErrMalformedCommand, "invalid numeric delta argument %q", fields[deltaArgIndex])
		}
		r.Delta = delta
	}
	return nil
}

func (r *Request) parseTouch(fields []string) error {
	if len(fields) < minArgsForTouch {
		return errors.Wrap(ErrMalformedCommand, "touch requires <key> <exptime>")
	}
	if err := r.parseKey(fields); err != nil {
		return err
	}
	exptime, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return errors.Wrapf(ErrMalformedCommand, "invalid exptime %q", fields[2])
	}
	r.Exptime = exptime
	return nil
}

func (r *Request) parseKey(fields []string) error {
	if len(fields) < minArgsForKey {
		return errors.Wrapf(ErrMalformedCommand, "%s requires a key", r.Action)
	}
	if err := checkKey(fields[1]); err != nil {
		return err
	}
	r.Key = fields[1]
	return nil
}

func (r *Request) appendPayload(chunk []byte) error {
	r.Data = append(r.Data, chunk...)

	declared := int(r.Bytes)
	switch {
	case len(r.Data) < declared:
		return nil
	case len(r.Data) == declared:
		r.state = complete
		return nil
	}

	tail := r.Data[declared:]
	if string(tail) != Newline && string(tail) != "\n" {
		return errors.Wrap(ErrMalformedCommand, "bad data chunk")
	}
	r.Data = r.Data[:declared]
	r.state = complete
	return nil
}

func checkKey(key string) error {
	if len(key) > MaxKeyLength {
		return errors.Wrapf(ErrMalformedCommand, "key longer than %d bytes", MaxKeyLength)
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return errors.Wrap(ErrMalformedCommand, "key contains control characters")
		}
	}
	return nil
}
