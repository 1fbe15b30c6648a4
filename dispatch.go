package msgbox

import (
	"github.com/eapache/queue"
	"github.com/sagernet/sing/common/buf"
)

// pendingCall is one scheduled callback invocation. The read and setup
// phases only ever enqueue; callbacks run later, during the tick's flush.
type pendingCall struct {
	conn  *Conn
	event Event
	data  *buf.Buffer
}

type callQueue struct {
	pending *queue.Queue
}

func newCallQueue() callQueue {
	return callQueue{pending: queue.New()}
}

func (q *callQueue) enqueue(conn *Conn, event Event, data *buf.Buffer) {
	q.pending.Add(pendingCall{conn: conn, event: event, data: data})
}

// flush delivers the calls scheduled before it began, in FIFO order. The
// live queue is detached and replaced first, so calls enqueued from inside a
// callback land in the next flush, never the current one. Each payload is
// released as soon as its callback returns.
func (q *callQueue) flush() {
	detached := q.pending
	q.pending = queue.New()
	for detached.Length() > 0 {
		call := detached.Remove().(pendingCall)
		call.conn.callback(call.conn, call.event, call.data)
		if call.data != nil {
			call.data.Release()
		}
	}
}
