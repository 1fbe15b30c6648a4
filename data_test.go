package msgbox

import (
	"testing"

	"github.com/sagernet/msgbox/wire"
	"github.com/stretchr/testify/require"
)

func TestNewData(t *testing.T) {
	buffer := NewData(16)
	defer buffer.Release()
	require.Equal(t, wire.HeaderLen, buffer.Start())
	require.Equal(t, 0, buffer.Len())
	require.Equal(t, 16, buffer.FreeLen())
}

func TestNewDataString(t *testing.T) {
	buffer := NewDataString("hi")
	defer buffer.Release()
	require.Equal(t, wire.HeaderLen, buffer.Start())
	require.Equal(t, "hi", string(buffer.Bytes()))
}

func TestNewDataEmpty(t *testing.T) {
	buffer := NewData(0)
	defer buffer.Release()
	require.Equal(t, 0, buffer.Len())
	require.Equal(t, wire.HeaderLen, buffer.Start())
}
