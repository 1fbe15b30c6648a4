// Package msgbox is a small message-oriented networking runtime: the
// application registers a callback per socket, a single poll(2) loop
// multiplexes every registered socket, payloads travel behind a fixed 8-byte
// frame header, and events are delivered on a deferred schedule that is safe
// to mutate from inside a callback.
package msgbox

import (
	"net/netip"
	"time"

	"github.com/sagernet/msgbox/wire"
	"github.com/sagernet/sing/common/buf"
	E "github.com/sagernet/sing/common/exceptions"
	M "github.com/sagernet/sing/common/metadata"
	"github.com/sirupsen/logrus"

	"golang.org/x/sys/unix"
)

const (
	defaultPeerLifetime      = 5 * time.Minute
	defaultReceiveBufferSize = 32768
)

type Options struct {
	// Logger is the process-level diagnostic channel for failures that
	// cannot be attributed to a single connection. Defaults to a tagged
	// logrus entry.
	Logger *logrus.Entry

	// PeerLifetime bounds how long an idle remote peer stays known, and with
	// that how long duplicate connection-ready events stay suppressed.
	// Defaults to 5 minutes; a negative value keeps peers forever.
	PeerLifetime time.Duration

	// ReceiveBufferSize caps a single received frame, header included.
	// Defaults to 32768 bytes.
	ReceiveBufferSize int
}

// Reactor owns a set of registered sockets, the table of observed peers and
// the queue of pending callbacks. It is single threaded by construction:
// Tick and every Conn method must run on one goroutine, and callbacks run
// synchronously inside Tick. Independent reactors do not share state.
type Reactor struct {
	logger            *logrus.Entry
	receiveBufferSize int

	// conns and pollFDs have corresponding elements at the same index,
	// because poll(2) consumes a contiguous pollfd array.
	conns   []*Conn
	pollFDs []unix.PollFd

	peers peerTable
	calls callQueue

	nextReplyID    uint16
	pendingReplies map[uint16]any
}

func New(options Options) *Reactor {
	logger := options.Logger
	if logger == nil {
		logger = NewLogger("msgbox")
	}
	peerLifetime := options.PeerLifetime
	if peerLifetime == 0 {
		peerLifetime = defaultPeerLifetime
	}
	receiveBufferSize := options.ReceiveBufferSize
	if receiveBufferSize == 0 {
		receiveBufferSize = defaultReceiveBufferSize
	}
	return &Reactor{
		logger:            logger,
		receiveBufferSize: receiveBufferSize,
		peers:             newPeerTable(peerLifetime),
		calls:             newCallQueue(),
		pendingReplies:    make(map[uint16]any),
	}
}

// Listen opens a socket bound to the given address specification, for
// example "udp://*:9000". The outcome arrives through callback on a later
// tick: either EventListening or exactly one EventError.
func (r *Reactor) Listen(address string, connContext any, callback Callback) {
	r.open(address, true, connContext, callback)
}

// Connect opens a socket directed at the given address specification, for
// example "udp://127.0.0.1:9000". The outcome arrives through callback on a
// later tick: either EventConnectionReady or exactly one EventError.
func (r *Reactor) Connect(address string, connContext any, callback Callback) {
	r.open(address, false, connContext, callback)
}

func (r *Reactor) open(address string, listening bool, connContext any, callback Callback) {
	conn := &Conn{
		reactor:   r,
		listening: listening,
		context:   connContext,
		callback:  callback,
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		r.enqueueError(conn, E.Cause(err, "create socket"))
		return
	}
	conn.fd = fd
	// Registered speculatively; every failure below must undo this.
	r.register(conn)
	protocol, remote, err := parseAddress(address)
	if err == nil && protocol == ProtocolStream {
		err = E.New("stream transport not implemented: ", address)
	}
	if err != nil {
		r.unregister(conn)
		r.enqueueError(conn, err)
		return
	}
	conn.protocol = protocol
	conn.remote = remote
	sockaddr := sockaddrFrom(remote)
	if listening {
		err = unix.Bind(fd, sockaddr)
		if err != nil {
			err = E.Cause(err, "bind")
		}
	} else {
		err = unix.Connect(fd, sockaddr)
		if err != nil {
			err = E.Cause(err, "connect")
		}
	}
	if err != nil {
		r.unregister(conn)
		r.enqueueError(conn, err)
		return
	}
	if listening {
		r.calls.enqueue(conn, EventListening, nil)
	} else {
		r.observePeer(conn)
	}
}

func (r *Reactor) register(conn *Conn) {
	r.conns = append(r.conns, conn)
	r.pollFDs = append(r.pollFDs, unix.PollFd{Fd: int32(conn.fd), Events: unix.POLLIN})
}

func (r *Reactor) unregister(conn *Conn) error {
	for index, registered := range r.conns {
		if registered == conn {
			r.conns = append(r.conns[:index], r.conns[index+1:]...)
			r.pollFDs = append(r.pollFDs[:index], r.pollFDs[index+1:]...)
			r.peers.forgetOwner(conn)
			return unix.Close(conn.fd)
		}
	}
	return E.New("connection is not registered")
}

func (r *Reactor) enqueueError(conn *Conn, err error) {
	r.calls.enqueue(conn, EventError, NewDataString(err.Error()))
}

// observePeer records a sighting of conn's current remote endpoint and
// schedules EventConnectionReady the first time that peer is seen.
func (r *Reactor) observePeer(conn *Conn) {
	key := peerKey{
		owner:    conn,
		addr:     conn.remote.Addr,
		port:     conn.remote.Port,
		protocol: conn.protocol,
	}
	if r.peers.observe(key, time.Now()) {
		r.calls.enqueue(conn, EventConnectionReady, nil)
	}
}

// Tick runs one reactor iteration: wait up to timeoutMs for readable
// sockets, decode ready frames, then deliver the callbacks queued before the
// flush began. timeoutMs 0 polls without blocking and a negative value waits
// indefinitely. Callers loop Tick to run the service.
func (r *Reactor) Tick(timeoutMs int) error {
	n, err := unix.Poll(r.pollFDs, timeoutMs)
	if err != nil {
		if err == unix.EFAULT || err == unix.EINVAL {
			// Cannot be attributed to a connection, so it cannot reach a
			// callback; these only occur on defects in the runtime itself.
			r.logger.Error("internal error in poll: ", err)
			return E.Cause(err, "poll")
		}
		// EINTR and friends end the tick early with nothing to read.
	} else if n > 0 {
		for index := range r.pollFDs {
			// POLLERR/POLLHUP arrive unrequested, for example after an ICMP
			// port-unreachable on a connected socket. Reading consumes the
			// pending error, otherwise poll reports the socket forever.
			if r.pollFDs[index].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
				continue
			}
			r.readFromSocket(r.conns[index])
		}
	}
	r.calls.flush()
	r.peers.sweep(time.Now())
	return nil
}

func (r *Reactor) readFromSocket(conn *Conn) {
	// Peek the header without consuming the datagram, so the full frame can
	// be received in one call once classified.
	var rawHeader [wire.HeaderLen]byte
	n, _, err := unix.Recvfrom(conn.fd, rawHeader[:], unix.MSG_PEEK)
	if err != nil {
		r.enqueueError(conn, E.Cause(err, "recv"))
		return
	}
	header, err := wire.Decode(rawHeader[:n])
	if err != nil {
		r.discardDatagram(conn)
		r.logger.Warn("dropping frame: ", err)
		r.enqueueError(conn, err)
		return
	}
	conn.replyID = header.ReplyID
	if header.NumPackets != 1 {
		// Multi-packet reassembly is an extension point, not delivered
		// behavior.
		r.discardDatagram(conn)
		err = E.New("multi-packet frames not implemented: ", header.NumPackets, " packets")
		r.logger.Warn(err)
		r.enqueueError(conn, err)
		return
	}

	buffer := buf.NewSize(r.receiveBufferSize)
	n, from, err := unix.Recvfrom(conn.fd, buffer.FreeBytes(), 0)
	if err != nil {
		buffer.Release()
		r.enqueueError(conn, E.Cause(err, "recvfrom"))
		return
	}
	buffer.Truncate(n)
	// The callback sees only the logical message.
	buffer.Advance(wire.HeaderLen)

	if source, isInet4 := from.(*unix.SockaddrInet4); isInet4 {
		conn.remote = M.SocksaddrFrom(netip.AddrFrom4(source.Addr), uint16(source.Port))
	}
	r.observePeer(conn)

	switch header.Type {
	case wire.MessageOneWay:
		r.calls.enqueue(conn, EventMessage, buffer)
	case wire.MessageRequest:
		r.calls.enqueue(conn, EventRequest, buffer)
	case wire.MessageReply:
		requestID := header.RequestID()
		replyContext, loaded := r.pendingReplies[requestID]
		if !loaded {
			r.logger.Warn("reply with unknown correlation id ", requestID)
		}
		delete(r.pendingReplies, requestID)
		conn.replyContext = replyContext
		r.calls.enqueue(conn, EventReply, buffer)
	case wire.MessageHeartbeat:
		// Peer liveness was refreshed above; nothing reaches the callback.
		buffer.Release()
	case wire.MessageClose:
		buffer.Release()
		r.calls.enqueue(conn, EventClosed, nil)
	}
}

// discardDatagram consumes and drops the datagram at the head of the socket
// buffer. The kernel truncates datagram reads, so a header-sized scratch
// read removes the whole frame.
func (r *Reactor) discardDatagram(conn *Conn) {
	var scratch [wire.HeaderLen]byte
	_, _, _ = unix.Recvfrom(conn.fd, scratch[:], 0)
}

// allocateReplyID hands out correlation ids from a counter wrapping over
// [1, wire.MaxReplyID], skipping ids that still await a reply.
func (r *Reactor) allocateReplyID(replyContext any) (uint16, error) {
	for attempt := uint16(0); attempt < wire.MaxReplyID; attempt++ {
		r.nextReplyID++
		if r.nextReplyID > wire.MaxReplyID {
			r.nextReplyID = 1
		}
		if _, inFlight := r.pendingReplies[r.nextReplyID]; inFlight {
			continue
		}
		r.pendingReplies[r.nextReplyID] = replyContext
		return r.nextReplyID, nil
	}
	return 0, E.New("all reply correlation ids are in flight")
}

func (r *Reactor) releaseReplyID(replyID uint16) {
	delete(r.pendingReplies, replyID)
}
