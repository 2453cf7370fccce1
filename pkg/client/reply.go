package client

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/appserver-io/memcached/pkg/protocol"
	"github.com/pkg/errors"
)

// Errors returned for normal negative replies. They leave the connection
// usable.
var (
	// ErrCacheMiss means a get found no value for the key.
	ErrCacheMiss = errors.New("memcache: cache miss")
	// ErrNotStored means an add, replace, append or prepend precondition failed.
	ErrNotStored = errors.New("memcache: item not stored")
	// ErrNotFound means the item to touch, delete, incr or decr does not exist.
	ErrNotFound = errors.New("memcache: item not found")
	// ErrMalformedKey means the key is too long or contains spaces or
	// control characters.
	ErrMalformedKey = errors.New("memcache: key is too long or contains invalid characters")
)

// ServerError is a CLIENT_ERROR or server error line sent by a node.
type ServerError struct {
	Line string
}

func (e *ServerError) Error() string {
	return "memcache: server error: " + e.Line
}

// isReplyError reports whether err came from a well formed reply, in which
// case the connection can be reused.
func isReplyError(err error) bool {
	switch cause := errors.Cause(err).(type) {
	case *ServerError:
		return !strings.HasPrefix(cause.Line, protocol.RespUnknownState)
	default:
		return cause == ErrCacheMiss || cause == ErrNotStored || cause == ErrNotFound
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "reading reply")
	}
	return strings.TrimRight(line, protocol.Newline), nil
}

func checkErrorLine(line string) error {
	if strings.HasPrefix(line, protocol.RespClientError) ||
		strings.HasPrefix(line, "SERVER ERROR") ||
		strings.HasPrefix(line, "SERVER_ERROR") ||
		line == "ERROR" {
		return &ServerError{Line: line}
	}
	return nil
}

// readStatus reads a one line reply and maps it to an error. want is the
// success token.
func readStatus(r *bufio.Reader, want string) error {
	line, err := readLine(r)
	if err != nil {
		return err
	}
	switch line {
	case want:
		return nil
	case protocol.RespNotStored:
		return ErrNotStored
	case protocol.RespNotFound:
		return ErrNotFound
	}
	if err := checkErrorLine(line); err != nil {
		return err
	}
	return errors.Errorf("memcache: unexpected reply %q", line)
}

// readValues reads VALUE blocks up to END and passes every item to fn.
func readValues(r *bufio.Reader, fn func(*Item)) error {
	for {
		line, err := readLine(r)
		if err != nil {
			return err
		}
		if line == protocol.RespEnd {
			return nil
		}
		if err := checkErrorLine(line); err != nil {
			return err
		}

		item, size, err := parseValueHeader(line)
		if err != nil {
			return err
		}
		buf := make([]byte, size+len(protocol.Newline))
		if _, err := io.ReadFull(r, buf); err != nil {
			return errors.Wrap(err, "reading value")
		}
		if !bytes.HasSuffix(buf, []byte(protocol.Newline)) {
			return errors.New("memcache: corrupt value block")
		}
		item.Value = buf[:size]
		fn(item)
	}
}

// parseValueHeader parses "VALUE <key> <flags> <bytes>".
func parseValueHeader(line string) (*Item, int, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != protocol.RespValue {
		return nil, 0, errors.Errorf("memcache: unexpected line in get reply %q", line)
	}
	flags, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "memcache: bad flags in %q", line)
	}
	size, err := strconv.Atoi(fields[3])
	if err != nil || size < 0 {
		return nil, 0, errors.Errorf("memcache: bad length in %q", line)
	}
	return &Item{Key: fields[1], Flags: uint32(flags)}, size, nil
}

// readCounter reads the reply to incr or decr.
func readCounter(r *bufio.Reader) (uint64, error) {
	line, err := readLine(r)
	if err != nil {
		return 0, err
	}
	if line == protocol.RespNotFound {
		return 0, ErrNotFound
	}
	if err := checkErrorLine(line); err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(line, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "memcache: bad counter reply %q", line)
	}
	return n, nil
}

func legalKey(key string) bool {
	if key == "" || len(key) > protocol.MaxKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}
