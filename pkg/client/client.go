// Package client is a memcache text protocol client for one or more servers.
//
// Keys are spread across the configured nodes with a consistent hash ring,
// so every node holds an independent share of the data. Each node gets its
// own connection pool, and commands that fail on the transport are retried
// on a fresh connection.
//
// Basic Usage:
//
//	c := client.New([]string{"cache1:11211", "cache2:11211"})
//	defer c.Close()
//
//	err := c.Set(&client.Item{Key: "user:123", Value: []byte("john"), Expiration: 3600})
//	item, err := c.Get("user:123")
//	if errors.Cause(err) == client.ErrCacheMiss {
//		// not cached
//	}
//
// Advanced Configuration:
//
//	cfg := &config.ClientConfig{
//		Nodes:           []string{"cache1:11211", "cache2:11211"},
//		MaxConnsPerNode: 20,
//		ConnTimeout:     2,
//		ReadTimeout:     5,
//		WriteTimeout:    5,
//		RetryAttempts:   2,
//		VirtualNodes:    200,
//	}
//	c := client.NewWithConfig(cfg)
package client

import (
	"bufio"
	"fmt"
	"sync"
	"time"

	"github.com/appserver-io/memcached/pkg/config"
	"github.com/appserver-io/memcached/pkg/hash"
	"github.com/appserver-io/memcached/pkg/protocol"
	"github.com/pkg/errors"
)

// ErrNoNodes is returned when the ring has no node to send a command to.
var ErrNoNodes = errors.New("memcache: no available nodes")

// Item is a value stored under a key.
type Item struct {
	Key        string
	Value      []byte
	Flags      uint32
	Expiration int32 // seconds, or a Unix timestamp beyond 30 days; 0 never expires
}

// Client talks to a set of memcache servers. It is safe for concurrent use.
type Client struct {
	config *config.ClientConfig
	ring   *hash.Ring
	pools  map[string]*ConnectionPool
	mu     sync.RWMutex // protects pools
}

// New creates a Client for nodes using the default settings.
func New(nodes []string) *Client {
	cfg := config.DefaultClientConfig()
	cfg.Nodes = nodes
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Client from cfg.
//
// Panics:
//   - If the configuration is invalid (fails validation)
func NewWithConfig(cfg *config.ClientConfig) *Client {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid client config: %v", err))
	}

	c := &Client{
		config: cfg,
		ring:   hash.NewRing(cfg.VirtualNodes),
		pools:  make(map[string]*ConnectionPool),
	}
	for _, node := range cfg.Nodes {
		c.AddNode(node)
	}
	return c
}

// AddNode adds a server. Keys that now hash to it will miss until they are
// stored again.
func (c *Client) AddNode(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pools[address]; !exists {
		c.pools[address] = newConnectionPool(address, c.config.MaxConnsPerNode,
			time.Duration(c.config.ConnTimeout)*time.Second)
	}
	c.ring.Add(address)
}

// RemoveNode removes a server and closes its idle connections.
func (c *Client) RemoveNode(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ring.Remove(address)
	if pool, exists := c.pools[address]; exists {
		pool.Close()
		delete(c.pools, address)
	}
}

// Nodes returns the configured servers.
func (c *Client) Nodes() []string {
	return c.ring.Nodes()
}

// Get returns the item stored under key, or ErrCacheMiss.
func (c *Client) Get(key string) (*Item, error) {
	var found *Item
	err := c.withKey(key, func(rw *bufio.ReadWriter) error {
		if _, err := fmt.Fprintf(rw, "get %s\r\n", key); err != nil {
			return err
		}
		if err := rw.Flush(); err != nil {
			return err
		}
		return readValues(rw.Reader, func(it *Item) { found = it })
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrCacheMiss
	}
	return found, nil
}

// GetMulti fetches several keys with one get per node. Missing keys are
// absent from the returned map.
func (c *Client) GetMulti(keys []string) (map[string]*Item, error) {
	byNode := make(map[string][]string)
	for _, key := range keys {
		if !legalKey(key) {
			return nil, errors.Wrapf(ErrMalformedKey, "%q", key)
		}
		node := c.ring.Locate(key)
		if node == "" {
			return nil, ErrNoNodes
		}
		byNode[node] = append(byNode[node], key)
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		items    = make(map[string]*Item, len(keys))
	)
	for node, nodeKeys := range byNode {
		wg.Add(1)
		go func(node string, nodeKeys []string) {
			defer wg.Done()
			var got []*Item
			err := c.onNode(node, func(rw *bufio.ReadWriter) error {
				got = got[:0]
				if _, err := rw.WriteString("get"); err != nil {
					return err
				}
				for _, key := range nodeKeys {
					if _, err := rw.WriteString(" " + key); err != nil {
						return err
					}
				}
				if _, err := rw.WriteString(protocol.Newline); err != nil {
					return err
				}
				if err := rw.Flush(); err != nil {
					return err
				}
				return readValues(rw.Reader, func(it *Item) { got = append(got, it) })
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			for _, it := range got {
				items[it.Key] = it
			}
		}(node, nodeKeys)
	}
	wg.Wait()
	return items, firstErr
}

// Set stores item unconditionally.
func (c *Client) Set(item *Item) error {
	return c.store("set", item)
}

// Add stores item only if its key is not present, otherwise ErrNotStored.
func (c *Client) Add(item *Item) error {
	return c.store("add", item)
}

// Replace stores item only if its key is present, otherwise ErrNotStored.
func (c *Client) Replace(item *Item) error {
	return c.store("replace", item)
}

// Append adds item.Value after the stored value. Flags and Expiration are
// ignored by the server.
func (c *Client) Append(item *Item) error {
	return c.store("append", item)
}

// Prepend adds item.Value before the stored value.
func (c *Client) Prepend(item *Item) error {
	return c.store("prepend", item)
}

// Touch sets a new expiration for key.
func (c *Client) Touch(key string, seconds int32) error {
	return c.withKey(key, func(rw *bufio.ReadWriter) error {
		if _, err := fmt.Fprintf(rw, "touch %s %d\r\n", key, seconds); err != nil {
			return err
		}
		if err := rw.Flush(); err != nil {
			return err
		}
		return readStatus(rw.Reader, protocol.RespTouched)
	})
}

// Delete removes key, or returns ErrNotFound.
func (c *Client) Delete(key string) error {
	return c.withKey(key, func(rw *bufio.ReadWriter) error {
		if _, err := fmt.Fprintf(rw, "delete %s\r\n", key); err != nil {
			return err
		}
		if err := rw.Flush(); err != nil {
			return err
		}
		return readStatus(rw.Reader, protocol.RespDeleted)
	})
}

// Incr adds delta to the decimal value stored under key and returns the
// result. The server wraps around at 64 bits.
func (c *Client) Incr(key string, delta uint64) (uint64, error) {
	return c.arithmetic("incr", key, delta)
}

// Decr subtracts delta from the value stored under key, stopping at zero.
func (c *Client) Decr(key string, delta uint64) (uint64, error) {
	return c.arithmetic("decr", key, delta)
}

// FlushAll clears every node. All nodes are tried; the first error is
// returned.
func (c *Client) FlushAll() error {
	var firstErr error
	for _, node := range c.ring.Nodes() {
		err := c.onNode(node, func(rw *bufio.ReadWriter) error {
			if _, err := rw.WriteString("flush_all" + protocol.Newline); err != nil {
				return err
			}
			if err := rw.Flush(); err != nil {
				return err
			}
			return readStatus(rw.Reader, protocol.RespOK)
		})
		if err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "flush_all on %s", node)
		}
	}
	return firstErr
}

// Close closes the connection pools of every node. The client must not be
// used afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pool := range c.pools {
		pool.Close()
	}
	return nil
}

func (c *Client) store(verb string, item *Item) error {
	return c.withKey(item.Key, func(rw *bufio.ReadWriter) error {
		_, err := fmt.Fprintf(rw, "%s %s %d %d %d\r\n", verb, item.Key, item.Flags, item.Expiration, len(item.Value))
		if err != nil {
			return err
		}
		if _, err := rw.Write(item.Value); err != nil {
			return err
		}
		if _, err := rw.WriteString(protocol.Newline); err != nil {
			return err
		}
		if err := rw.Flush(); err != nil {
			return err
		}
		return readStatus(rw.Reader, protocol.RespStored)
	})
}

func (c *Client) arithmetic(verb, key string, delta uint64) (uint64, error) {
	var n uint64
	err := c.withKey(key, func(rw *bufio.ReadWriter) error {
		if _, err := fmt.Fprintf(rw, "%s %s %d\r\n", verb, key, delta); err != nil {
			return err
		}
		if err := rw.Flush(); err != nil {
			return err
		}
		var err error
		n, err = readCounter(rw.Reader)
		return err
	})
	return n, err
}

func (c *Client) withKey(key string, fn func(rw *bufio.ReadWriter) error) error {
	if !legalKey(key) {
		return errors.Wrapf(ErrMalformedKey, "%q", key)
	}
	node := c.ring.Locate(key)
	if node == "" {
		return ErrNoNodes
	}
	return c.onNode(node, fn)
}

// onNode runs fn on a pooled connection to node. Negative replies are
// returned as they are; transport failures discard the connection and are
// retried up to RetryAttempts times.
func (c *Client) onNode(node string, fn func(rw *bufio.ReadWriter) error) error {
	c.mu.RLock()
	pool, exists := c.pools[node]
	c.mu.RUnlock()
	if !exists {
		return errors.Errorf("memcache: no connection pool for node %s", node)
	}

	readTimeout := time.Duration(c.config.ReadTimeout) * time.Second
	writeTimeout := time.Duration(c.config.WriteTimeout) * time.Second

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		cn, err := pool.Get()
		if err != nil {
			lastErr = err
			continue
		}
		if err := cn.extendDeadlines(readTimeout, writeTimeout); err != nil {
			pool.Discard(cn)
			lastErr = err
			continue
		}

		err = fn(cn.rw)
		if err == nil || isReplyError(err) {
			pool.Put(cn)
			return err
		}
		pool.Discard(cn)
		lastErr = err
	}

	return errors.Wrapf(lastErr, "memcache: command failed on %s after %d attempts", node, c.config.RetryAttempts+1)
}
