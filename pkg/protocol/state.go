package protocol

// ConnectionState tells the connection handler what to do after a command.
type ConnectionState uint8

const (
	StateResume ConnectionState = iota // keep serving on this connection
	StateReset                         // reset per-command state, then keep serving
	StateClose                         // stop serving and close the connection
)

func (s ConnectionState) String() string {
	switch s {
	case StateResume:
		return "resume"
	case StateReset:
		return "reset"
	case StateClose:
		return "close"
	default:
		return "unknown"
	}
}
