package protocol

import "strings"

// Action identifies a memcache command. It is decided once, when the command
// line is parsed, and used by the engine to pick a handler.
type Action uint8

// Action constants for every supported command.
const (
	ActionNone     Action = iota
	ActionGet             // get <key>*
	ActionSet             // set <key> <flags> <exptime> <bytes>
	ActionAdd             // add <key> <flags> <exptime> <bytes>
	ActionReplace         // replace <key> <flags> <exptime> <bytes>
	ActionAppend          // append <key> <flags> <exptime> <bytes>
	ActionPrepend         // prepend <key> <flags> <exptime> <bytes>
	ActionTouch           // touch <key> <exptime>
	ActionDelete          // delete <key>
	ActionIncr            // incr <key> [<delta>]
	ActionDecr            // decr <key> [<delta>]
	ActionQuit            // quit
	ActionFlushAll        // flush_all
)

var actionNames = map[string]Action{
	"get":       ActionGet,
	"set":       ActionSet,
	"add":       ActionAdd,
	"replace":   ActionReplace,
	"append":    ActionAppend,
	"prepend":   ActionPrepend,
	"touch":     ActionTouch,
	"delete":    ActionDelete,
	"incr":      ActionIncr,
	"decr":      ActionDecr,
	"quit":      ActionQuit,
	"flush_all": ActionFlushAll,
}

// ParseAction looks up the action for a command name. Names are matched
// case-insensitively.
func ParseAction(name string) (Action, bool) {
	a, ok := actionNames[strings.ToLower(name)]
	return a, ok
}

// HasPayload reports whether the command line is followed by a data block.
func (a Action) HasPayload() bool {
	switch a {
	case ActionSet, ActionAdd, ActionReplace, ActionAppend, ActionPrepend:
		return true
	}
	return false
}

func (a Action) String() string {
	for name, action := range actionNames {
		if action == a {
			return name
		}
	}
	return "none"
}
