package msgbox

import (
	"net/netip"

	"github.com/sagernet/msgbox/wire"
	"github.com/sagernet/sing/common"
	"github.com/sagernet/sing/common/buf"
	E "github.com/sagernet/sing/common/exceptions"
	M "github.com/sagernet/sing/common/metadata"

	"golang.org/x/sys/unix"
)

// Conn is one registered socket, listening or connected. A Conn is created
// by Reactor.Listen or Reactor.Connect and stays valid until disconnected.
// All methods must be called from the reactor's thread, which includes any
// callback.
type Conn struct {
	reactor      *Reactor
	fd           int
	protocol     Protocol
	listening    bool
	remote       M.Socksaddr
	replyID      uint16
	replyContext any
	context      any
	callback     Callback
}

// Context returns the opaque value passed to Listen or Connect.
func (c *Conn) Context() any {
	return c.context
}

// ReplyContext returns the value passed to the Request answered by the most
// recently delivered reply, or nil outside an EventReply callback.
func (c *Conn) ReplyContext() any {
	return c.replyContext
}

// RemoteAddr reports the remote endpoint: the connect target for connecting
// sockets, the sender of the most recently read frame for listening ones.
func (c *Conn) RemoteAddr() M.Socksaddr {
	return c.remote
}

func (c *Conn) LocalAddr() M.Socksaddr {
	name, err := unix.Getsockname(c.fd)
	if err != nil {
		return M.Socksaddr{}
	}
	if local, isInet4 := name.(*unix.SockaddrInet4); isInet4 {
		return M.SocksaddrFrom(netip.AddrFrom4(local.Addr), uint16(local.Port))
	}
	return M.Socksaddr{}
}

func (c *Conn) Listening() bool {
	return c.listening
}

func (c *Conn) Protocol() Protocol {
	return c.protocol
}

// Send frames data as a one-way message and writes it to the socket. There
// is no delivery confirmation. The caller keeps ownership of data and
// releases it after Send returns.
func (c *Conn) Send(data *buf.Buffer) error {
	return c.send(wire.MessageOneWay, 0, data)
}

// Request frames data as a request carrying a fresh correlation id. When the
// matching reply arrives it is delivered as EventReply with replyContext
// available through ReplyContext.
func (c *Conn) Request(data *buf.Buffer, replyContext any) error {
	replyID, err := c.reactor.allocateReplyID(replyContext)
	if err != nil {
		return err
	}
	err = c.send(wire.MessageRequest, replyID, data)
	if err != nil {
		c.reactor.releaseReplyID(replyID)
	}
	return err
}

// Reply answers the request carried by the most recently decoded frame on
// this connection.
func (c *Conn) Reply(data *buf.Buffer) error {
	if c.replyID == 0 || c.replyID&wire.ReplyMask != 0 {
		return E.New("no request to reply to")
	}
	return c.send(wire.MessageReply, c.replyID|wire.ReplyMask, data)
}

// Disconnect sends a zero-length close frame, then removes the connection
// from the reactor and closes the socket. EventClosed is delivered on the
// next tick.
func (c *Conn) Disconnect() error {
	data := NewData(0)
	defer data.Release()
	sendErr := c.send(wire.MessageClose, 0, data)
	if err := c.reactor.unregister(c); err != nil {
		// Already removed, so EventClosed was already scheduled once.
		return err
	}
	c.reactor.calls.enqueue(c, EventClosed, nil)
	return sendErr
}

// Unlisten removes a listening connection from the reactor and closes its
// socket. No frame is sent; transient peers learn of the loss on their own.
func (c *Conn) Unlisten() error {
	if err := c.reactor.unregister(c); err != nil {
		return err
	}
	c.reactor.calls.enqueue(c, EventClosed, nil)
	return nil
}

func (c *Conn) send(messageType wire.MessageType, replyID uint16, data *buf.Buffer) error {
	wire.Header{
		Type:       messageType,
		NumPackets: 1,
		PacketID:   0,
		ReplyID:    replyID,
	}.Encode(data)
	// Hand the payload-only view back to the caller afterwards.
	defer data.Advance(wire.HeaderLen)
	if c.protocol == ProtocolDatagram && c.listening {
		// A listening datagram socket is unconnected: address the frame to
		// the transient peer recorded at read time.
		return unix.Sendto(c.fd, data.Bytes(), 0, sockaddrFrom(c.remote))
	}
	return common.Error(unix.Write(c.fd, data.Bytes()))
}

func sockaddrFrom(addr M.Socksaddr) *unix.SockaddrInet4 {
	sockaddr := &unix.SockaddrInet4{Port: int(addr.Port)}
	if addr.Addr.Is4() {
		sockaddr.Addr = addr.Addr.As4()
	}
	return sockaddr
}
