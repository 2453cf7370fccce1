package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/appserver-io/memcached/pkg/cache"
	"github.com/appserver-io/memcached/pkg/protocol"
	"github.com/pkg/errors"
)

// handlerFunc executes one command inside the store's critical section.
type handlerFunc func(tx *cache.Tx, req *protocol.Request) protocol.Response

// Engine executes parsed memcache requests against a shared store. It keeps
// no per-request state, so one Engine can serve every connection.
//
// Example:
//
//	engine := server.NewEngine(cache.NewStore(), "memcache:")
//	req := protocol.NewRequest()
//	_ = req.Push([]byte("get greeting\r\n"))
//	resp := engine.Execute(req) // resp.Data == "END"
type Engine struct {
	store     *cache.Store
	namespace string
	now       func() time.Time
	handlers  map[protocol.Action]handlerFunc
}

// NewEngine creates an Engine storing its entries under namespace in store.
func NewEngine(store *cache.Store, namespace string) *Engine {
	e := &Engine{
		store:     store,
		namespace: namespace,
		now:       time.Now,
	}
	e.handlers = map[protocol.Action]handlerFunc{
		protocol.ActionGet:      e.handleGet,
		protocol.ActionSet:      e.handleSet,
		protocol.ActionAdd:      e.handleAdd,
		protocol.ActionReplace:  e.handleReplace,
		protocol.ActionAppend:   e.handleAppend,
		protocol.ActionPrepend:  e.handlePrepend,
		protocol.ActionTouch:    e.handleTouch,
		protocol.ActionDelete:   e.handleDelete,
		protocol.ActionIncr:     e.handleIncr,
		protocol.ActionDecr:     e.handleDecr,
		protocol.ActionFlushAll: e.handleFlushAll,
		protocol.ActionQuit:     e.handleQuit,
	}
	return e
}

// Execute runs a complete request and returns the response to send together
// with the follow-up connection state. The whole command, including any
// check-then-act step, runs under the store lock.
func (e *Engine) Execute(req *protocol.Request) protocol.Response {
	handler, ok := e.handlers[req.Action]
	if !ok {
		err := errors.Wrapf(protocol.ErrUnknownAction, "%q", req.Action)
		return protocol.Response{Data: protocol.ClientError(err), State: protocol.StateResume}
	}

	var resp protocol.Response
	e.store.Do(e.namespace, func(tx *cache.Tx) {
		resp = handler(tx, req)
	})
	return resp
}

func (e *Engine) handleGet(tx *cache.Tx, req *protocol.Request) protocol.Response {
	var b strings.Builder
	for _, key := range req.Keys {
		if entry, ok := tx.Get(key); ok {
			protocol.Value(&b, entry.Key, entry.Flags, entry.Value)
		}
	}
	b.WriteString(protocol.RespEnd)
	return resume(b.String())
}

func (e *Engine) handleSet(tx *cache.Tx, req *protocol.Request) protocol.Response {
	e.write(tx, req)
	return resume(protocol.RespStored)
}

func (e *Engine) handleAdd(tx *cache.Tx, req *protocol.Request) protocol.Response {
	if tx.Exists(req.Key) {
		return resume(protocol.RespNotStored)
	}
	e.write(tx, req)
	return resume(protocol.RespStored)
}

func (e *Engine) handleReplace(tx *cache.Tx, req *protocol.Request) protocol.Response {
	if !tx.Exists(req.Key) {
		return resume(protocol.RespNotStored)
	}
	e.write(tx, req)
	return resume(protocol.RespStored)
}

// handleAppend and handlePrepend keep the entry's flags and TTL; the flags
// and exptime sent with the command are ignored.
func (e *Engine) handleAppend(tx *cache.Tx, req *protocol.Request) protocol.Response {
	entry, ok := tx.Get(req.Key)
	if !ok {
		return resume(protocol.RespNotStored)
	}
	entry.SetValue(concat(entry.Value, req.Data))
	return resume(protocol.RespStored)
}

func (e *Engine) handlePrepend(tx *cache.Tx, req *protocol.Request) protocol.Response {
	entry, ok := tx.Get(req.Key)
	if !ok {
		return resume(protocol.RespNotStored)
	}
	entry.SetValue(concat(req.Data, entry.Value))
	return resume(protocol.RespStored)
}

func (e *Engine) handleTouch(tx *cache.Tx, req *protocol.Request) protocol.Response {
	entry, ok := tx.Get(req.Key)
	if !ok {
		return resume(protocol.RespNotFound)
	}
	ttl, live := e.relativeTTL(req.Exptime)
	if !live {
		tx.Delete(req.Key)
		return resume(protocol.RespTouched)
	}
	entry.Exptime = req.Exptime
	tx.Schedule(entry, ttl)
	return resume(protocol.RespTouched)
}

func (e *Engine) handleDelete(tx *cache.Tx, req *protocol.Request) protocol.Response {
	if tx.Delete(req.Key) {
		return reset(protocol.RespDeleted)
	}
	return reset(protocol.RespNotFound)
}

func (e *Engine) handleIncr(tx *cache.Tx, req *protocol.Request) protocol.Response {
	return e.arithmetic(tx, req, true)
}

func (e *Engine) handleDecr(tx *cache.Tx, req *protocol.Request) protocol.Response {
	return e.arithmetic(tx, req, false)
}

// arithmetic treats the stored value as a decimal unsigned 64-bit integer.
// Increments wrap around, decrements stop at zero. A value that is not a
// number is overwritten with the delta.
func (e *Engine) arithmetic(tx *cache.Tx, req *protocol.Request, incr bool) protocol.Response {
	entry, ok := tx.Get(req.Key)
	if !ok {
		return resume(protocol.RespNotFound)
	}

	var next uint64
	current, err := strconv.ParseUint(string(entry.Value), 10, 64)
	switch {
	case err != nil:
		next = req.Delta
	case incr:
		next = current + req.Delta
	case req.Delta > current:
		next = 0
	default:
		next = current - req.Delta
	}

	value := strconv.FormatUint(next, 10)
	entry.SetValue([]byte(value))
	return resume(value)
}

func (e *Engine) handleFlushAll(tx *cache.Tx, _ *protocol.Request) protocol.Response {
	tx.Clear()
	return reset(protocol.RespOK)
}

func (e *Engine) handleQuit(_ *cache.Tx, _ *protocol.Request) protocol.Response {
	return protocol.Response{State: protocol.StateClose}
}

// write stores the request's data as a fresh entry and registers its TTL.
// An exptime that is already in the past removes the key instead.
func (e *Engine) write(tx *cache.Tx, req *protocol.Request) {
	ttl, live := e.relativeTTL(req.Exptime)
	if !live {
		tx.Delete(req.Key)
		return
	}
	entry := cache.NewEntry(req.Key, req.Flags, req.Exptime, req.Data)
	tx.Put(entry)
	tx.Schedule(entry, ttl)
}

// relativeTTL converts an exptime into seconds from now. Values up to 30 days
// are relative, larger ones are Unix timestamps. live is false when the item
// is already expired.
func (e *Engine) relativeTTL(exptime int64) (ttl int64, live bool) {
	switch {
	case exptime == 0:
		return 0, true
	case exptime < 0:
		return 0, false
	case exptime > protocol.RelativeExptimeLimit:
		ttl = exptime - e.now().Unix()
		return ttl, ttl > 0
	default:
		return exptime, true
	}
}

func resume(data string) protocol.Response {
	return protocol.Response{Data: data, State: protocol.StateResume}
}

func reset(data string) protocol.Response {
	return protocol.Response{Data: data, State: protocol.StateReset}
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
