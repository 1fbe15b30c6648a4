package msgbox

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	protocol, addr, err := parseAddress("udp://127.0.0.1:9000")
	require.NoError(t, err)
	require.Equal(t, ProtocolDatagram, protocol)
	require.Equal(t, netip.MustParseAddr("127.0.0.1"), addr.Addr)
	require.Equal(t, uint16(9000), addr.Port)

	protocol, addr, err = parseAddress("tcp://10.1.2.3:80")
	require.NoError(t, err)
	require.Equal(t, ProtocolStream, protocol)
	require.Equal(t, netip.MustParseAddr("10.1.2.3"), addr.Addr)
}

func TestParseAddressWildcard(t *testing.T) {
	_, addr, err := parseAddress("udp://*:9000")
	require.NoError(t, err)
	require.True(t, addr.Addr.IsUnspecified())
	require.Equal(t, uint16(9000), addr.Port)
}

func TestParseAddressErrors(t *testing.T) {
	_, _, err := parseAddress("http://127.0.0.1:80")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unrecognized protocol prefix")

	_, _, err = parseAddress("udp://999.999.999.999:1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "999.999.999.999")

	_, _, err = parseAddress("udp://127.0.0.1:")
	require.Error(t, err)

	_, _, err = parseAddress("udp://127.0.0.1:notaport")
	require.Error(t, err)

	_, _, err = parseAddress("udp://127.0.0.1")
	require.Error(t, err)

	_, _, err = parseAddress("udp://[::1]:9000")
	require.Error(t, err)
	require.Contains(t, err.Error(), "IPv4")
}
