package msgbox

import (
	"net"
	"net/netip"
	"strconv"
	"strings"

	E "github.com/sagernet/sing/common/exceptions"
	M "github.com/sagernet/sing/common/metadata"
)

type Protocol uint16

const (
	ProtocolDatagram Protocol = iota
	ProtocolStream
)

func (p Protocol) String() string {
	switch p {
	case ProtocolDatagram:
		return "udp"
	case ProtocolStream:
		return "tcp"
	default:
		return "unknown"
	}
}

const addressPrefixLen = 6

// parseAddress parses an address specification of the form
// "udp://<ipv4>:<port>" or "tcp://<ipv4>:<port>". The host "*" stands for
// any local address and is only meaningful when binding.
func parseAddress(address string) (Protocol, M.Socksaddr, error) {
	var protocol Protocol
	switch {
	case strings.HasPrefix(address, "udp://"):
		protocol = ProtocolDatagram
	case strings.HasPrefix(address, "tcp://"):
		protocol = ProtocolStream
	default:
		return 0, M.Socksaddr{}, E.New("unrecognized protocol prefix in address ", address)
	}
	host, portString, err := net.SplitHostPort(address[addressPrefixLen:])
	if err != nil {
		return 0, M.Socksaddr{}, E.Cause(err, "parse address ", address)
	}
	var addr netip.Addr
	if host == "*" {
		addr = netip.IPv4Unspecified()
	} else {
		addr, err = netip.ParseAddr(host)
		if err != nil {
			return 0, M.Socksaddr{}, E.Cause(err, "parse address ", address)
		}
		if !addr.Is4() {
			return 0, M.Socksaddr{}, E.New("expected an IPv4 address in ", address)
		}
	}
	port, err := strconv.ParseUint(portString, 10, 16)
	if err != nil {
		return 0, M.Socksaddr{}, E.Cause(err, "parse port in address ", address)
	}
	return protocol, M.SocksaddrFrom(addr, uint16(port)), nil
}
