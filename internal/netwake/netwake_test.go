package netwake

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagicPacket(t *testing.T) {
	packet, err := MagicPacket("01:23:45:67:89:ab")
	require.NoError(t, err)
	require.Len(t, packet, 102)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 6), packet[:6])
	mac := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab}
	for i := 0; i < 16; i++ {
		assert.Equal(t, mac, packet[6+i*6:12+i*6])
	}

	_, err = MagicPacket("not-a-mac")
	assert.Error(t, err)
}

func TestUDPWakerSendsPacket(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	w := UDPWaker{Address: conn.LocalAddr().(*net.UDPAddr)}
	require.NoError(t, w.Wake(context.Background(), "01-23-45-67-89-ab"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 256)
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, 102, n)
}

func TestICMPPingerRejectsBadHost(t *testing.T) {
	assert.False(t, ICMPPinger{}.Ping(context.Background(), "host.invalid.", 100*time.Millisecond))
}
