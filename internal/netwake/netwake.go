// Package netwake checks whether physical machines answer on the network
// and wakes them with a Wake-on-LAN magic packet.
package netwake

import (
	"context"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Pinger checks whether a host answers an ICMP echo within timeout.
type Pinger interface {
	Ping(ctx context.Context, host string, timeout time.Duration) bool
}

// Waker sends a wake-up signal to a machine.
type Waker interface {
	Wake(ctx context.Context, mac string) error
}

// ICMPPinger pings with unprivileged ICMP sockets.
type ICMPPinger struct {
	Privileged bool
}

// Ping implements Pinger.
func (p ICMPPinger) Ping(ctx context.Context, host string, timeout time.Duration) bool {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

// MagicPacket builds the Wake-on-LAN payload for mac.
func MagicPacket(mac string) ([]byte, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return nil, fmt.Errorf("invalid MAC address: %w", err)
	}
	if len(hw) != 6 {
		return nil, fmt.Errorf("invalid MAC address %s: need 6 bytes", mac)
	}

	packet := make([]byte, 102)
	for i := 0; i < 6; i++ {
		packet[i] = 0xFF
	}
	for i := 0; i < 16; i++ {
		copy(packet[6+i*6:], hw)
	}
	return packet, nil
}

// UDPWaker broadcasts magic packets over UDP.
type UDPWaker struct {
	// Address defaults to the IPv4 broadcast address on port 9.
	Address *net.UDPAddr
}

// Wake implements Waker.
func (w UDPWaker) Wake(ctx context.Context, mac string) error {
	packet, err := MagicPacket(mac)
	if err != nil {
		return err
	}
	addr := w.Address
	if addr == nil {
		addr = &net.UDPAddr{IP: net.IPv4bcast, Port: 9}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr.String())
	if err != nil {
		return fmt.Errorf("failed to dial UDP: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("failed to send magic packet: %w", err)
	}
	return nil
}
