package packet

import (
	"git.nspix.com/golang/kos/util/pool"
)

const (
	// MaxPayload is the largest payload a packet buffer can carry.
	MaxPayload = 256 * 1024

	// MaxPayloadV1 caps the length field of a smart-socket request.
	MaxPayloadV1 = 4 * 1024
)

// Packet is a fixed-capacity byte buffer moving between sockets and
// transports. Data holds the live payload; Ptr is the cursor of the first
// byte still to be written when the packet sits on a local socket backlog.
type Packet struct {
	Next *Packet
	Msg  Message
	Ptr  int
	Data []byte

	buf []byte
}

// Buffer exposes the full backing array for read fills. Callers reslice
// Data afterwards to the bytes actually produced.
func (p *Packet) Buffer() []byte {
	return p.buf
}

// Remaining returns the bytes still to be written.
func (p *Packet) Remaining() []byte {
	return p.Data[p.Ptr:]
}

// Len returns the number of unwritten bytes.
func (p *Packet) Len() int {
	return len(p.Data) - p.Ptr
}

// Advance moves the write cursor forward by n bytes.
func (p *Packet) Advance(n int) {
	p.Ptr += n
}

func New(capacity int) *Packet {
	if capacity <= 0 {
		return &Packet{}
	}
	buf := pool.GetBytes(capacity)
	return &Packet{
		buf:  buf,
		Data: buf[:0],
	}
}

// Put releases the packet's backing buffer. The packet must not be used
// afterwards.
func Put(p *Packet) {
	if p.buf != nil {
		pool.PutBytes(p.buf)
	}
	p.buf = nil
	p.Data = nil
	p.Next = nil
}

// Checksum is the additive payload checksum carried in the wire header.
func Checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}
