package msgbox

import "github.com/sagernet/sing/common/buf"

type Event uint8

const (
	EventListening Event = iota
	EventConnectionReady
	EventMessage
	EventRequest
	EventReply
	EventClosed
	EventError
)

func (e Event) String() string {
	switch e {
	case EventListening:
		return "listening"
	case EventConnectionReady:
		return "connection-ready"
	case EventMessage:
		return "message"
	case EventRequest:
		return "request"
	case EventReply:
		return "reply"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Callback receives events for one connection. data carries the message
// payload for EventMessage, EventRequest and EventReply, a human readable
// description for EventError, and is nil otherwise. The buffer is only valid
// until the callback returns; the dispatcher releases it afterwards.
//
// Callbacks run on the reactor's tick. Calling back into the runtime from a
// callback is safe: events scheduled there are delivered on a later tick.
type Callback func(conn *Conn, event Event, data *buf.Buffer)
