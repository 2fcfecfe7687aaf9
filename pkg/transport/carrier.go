package transport

import (
	"context"
	"io"
	"net"

	"github.com/uole/dbridge/pkg/packet"
)

type (
	// Carrier moves framed packets over one underlying connection. A
	// carrier has no stream ids of its own; multiplexing happens above it.
	Carrier interface {
		ReadPacket(maxPayload int) (*packet.Packet, error)
		WritePacket(p *packet.Packet) error
		RemoteAddr() net.Addr
		Close() error
	}

	// Listener accepts inbound carriers.
	Listener interface {
		Accept(ctx context.Context) (Carrier, error)
		Close() error
	}

	streamCarrier struct {
		rw   io.ReadWriteCloser
		addr net.Addr
	}
)

func (c *streamCarrier) ReadPacket(maxPayload int) (*packet.Packet, error) {
	return packet.ReadPacket(c.rw, maxPayload)
}

func (c *streamCarrier) WritePacket(p *packet.Packet) error {
	return packet.WritePacket(c.rw, p)
}

func (c *streamCarrier) RemoteAddr() net.Addr {
	return c.addr
}

func (c *streamCarrier) Close() error {
	return c.rw.Close()
}

// NewStreamCarrier frames packets over any reliable byte stream.
func NewStreamCarrier(rw io.ReadWriteCloser, addr net.Addr) Carrier {
	return &streamCarrier{rw: rw, addr: addr}
}
