package msgbox

import (
	"github.com/sagernet/msgbox/wire"
	"github.com/sagernet/sing/common"
	"github.com/sagernet/sing/common/buf"
)

// NewData allocates a payload buffer with wire.HeaderLen bytes of headroom
// reserved, so the frame header can be prepended at send time without
// reallocating or copying the payload.
func NewData(size int) *buf.Buffer {
	buffer := buf.NewSize(size + wire.HeaderLen)
	buffer.Resize(wire.HeaderLen, 0)
	return buffer
}

// NewDataString copies content into a fresh payload buffer.
func NewDataString(content string) *buf.Buffer {
	buffer := NewData(len(content))
	common.Must1(buffer.WriteString(content))
	return buffer
}
