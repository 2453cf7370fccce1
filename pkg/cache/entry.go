package cache

// Entry is a single cached item.
//
// Exptime is kept as the client sent it (seconds, 0 means never); the
// collector works from the relative TTL registered alongside the entry.
type Entry struct {
	Key     string
	Value   []byte
	Exptime int64
	Flags   uint32
	Bytes   uint32

	// revision identifies the TTL registration that currently owns the entry.
	// The collector only evicts an entry whose revision matches the one it
	// scheduled.
	revision uint64
}

// NewEntry builds an entry holding a private copy of value.
func NewEntry(key string, flags uint32, exptime int64, value []byte) *Entry {
	e := &Entry{
		Key:     key,
		Flags:   flags,
		Exptime: exptime,
	}
	e.SetValue(value)
	return e
}

// SetValue replaces the entry's data with a copy of value and updates Bytes.
func (e *Entry) SetValue(value []byte) {
	e.Value = cloneBytes(value)
	e.Bytes = uint32(len(e.Value))
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
