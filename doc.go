// Package memcached is an in-memory key/value cache speaking the memcache
// text protocol over TCP.
//
// # Architecture Overview
//
//   - pkg/protocol: request parser state machine, wire tokens and connection states
//   - pkg/cache: the shared Store with its invalidation index, and the Collector
//     that expires entries once per second
//   - internal/server: the Engine executing commands, the per-connection Handler,
//     and the TCP Server with its bounded worker pool
//   - pkg/config: server and client settings from flags and MEMCACHED_* variables
//   - pkg/client, pkg/hash: a client spreading keys over several servers with a
//     consistent hash ring
//   - cmd/server, cmd/client-example: executables
//
// # Quick Start
//
// Server:
//
//	./memcached -port 11211 -max-conns 1024
//	# or
//	MEMCACHED_PORT=11211 MEMCACHED_MAX_CONNS=1024 ./memcached
//
// Talking to it:
//
//	$ printf 'set greeting 0 0 5\r\nhello\r\nget greeting\r\nquit\r\n' | nc localhost 11211
//	STORED
//	VALUE greeting 0 5
//	hello
//	END
//
// Client:
//
//	c := client.New([]string{"localhost:11211"})
//	defer c.Close()
//	_ = c.Set(&client.Item{Key: "greeting", Value: []byte("hello"), Expiration: 60})
//	item, err := c.Get("greeting")
//
// # Supported Commands
//
//   - get <key>*
//   - set, add, replace, append, prepend <key> <flags> <exptime> <bytes>
//   - touch <key> <exptime>
//   - incr, decr <key> [<delta>]
//   - delete <key>
//   - flush_all
//   - quit
//
// An exptime of 0 never expires, values up to 30 days are relative seconds
// and larger values are Unix timestamps. Expired entries are removed by the
// collector within about a second of their deadline.
//
// Protocol mistakes are answered with "CLIENT_ERROR <reason>" and the
// connection stays open. Transport failures are answered with
// "SERVER ERROR unknown state" and the connection is closed.
package memcached
