package wire

import (
	"encoding/binary"
	"strconv"

	"github.com/sagernet/sing/common/buf"
	E "github.com/sagernet/sing/common/exceptions"
)

// Frame layout, all fields big endian:
//
//	offset 0  uint16  message type
//	offset 2  uint16  total packet count
//	offset 4  uint16  packet sequence id
//	offset 6  uint16  reply correlation id (bit 15 marks a reply)
//
// Payload bytes follow immediately after the header.
const HeaderLen = 8

type MessageType uint16

const (
	MessageOneWay MessageType = iota
	MessageRequest
	MessageReply
	MessageHeartbeat
	MessageClose
)

func (t MessageType) String() string {
	switch t {
	case MessageOneWay:
		return "one-way"
	case MessageRequest:
		return "request"
	case MessageReply:
		return "reply"
	case MessageHeartbeat:
		return "heartbeat"
	case MessageClose:
		return "close"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

const (
	// ReplyMask marks the correlation id field as answering an issued request.
	ReplyMask uint16 = 1 << 15
	// MaxReplyID bounds the usable correlation id space.
	MaxReplyID uint16 = 1<<15 - 1
)

type Header struct {
	Type       MessageType
	NumPackets uint16
	PacketID   uint16
	ReplyID    uint16
}

func (h Header) IsReply() bool {
	return h.ReplyID&ReplyMask != 0
}

func (h Header) RequestID() uint16 {
	return h.ReplyID &^ ReplyMask
}

// Encode writes the header into the buffer's reserved headroom, leaving the
// payload bytes untouched. The buffer must have been allocated with at least
// HeaderLen bytes of headroom.
func (h Header) Encode(buffer *buf.Buffer) {
	header := buffer.ExtendHeader(HeaderLen)
	binary.BigEndian.PutUint16(header[0:2], uint16(h.Type))
	binary.BigEndian.PutUint16(header[2:4], h.NumPackets)
	binary.BigEndian.PutUint16(header[4:6], h.PacketID)
	binary.BigEndian.PutUint16(header[6:8], h.ReplyID)
}

// Decode reads a header back out of raw bytes. Message types this codec
// never produces fail decoding: only this codec writes valid headers on the
// wire, so an unknown value means a misbehaving peer or a defect.
func Decode(rawHeader []byte) (Header, error) {
	if len(rawHeader) < HeaderLen {
		return Header{}, E.New("short frame header: ", len(rawHeader), " bytes")
	}
	header := Header{
		Type:       MessageType(binary.BigEndian.Uint16(rawHeader[0:2])),
		NumPackets: binary.BigEndian.Uint16(rawHeader[2:4]),
		PacketID:   binary.BigEndian.Uint16(rawHeader[4:6]),
		ReplyID:    binary.BigEndian.Uint16(rawHeader[6:8]),
	}
	switch header.Type {
	case MessageOneWay, MessageRequest, MessageReply, MessageHeartbeat, MessageClose:
	default:
		return Header{}, E.New("unknown message type ", uint16(header.Type))
	}
	return header, nil
}
