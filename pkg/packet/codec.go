package packet

import (
	"encoding/binary"
	"fmt"
	"io"

	"git.nspix.com/golang/kos/util/pool"
)

// WritePacket frames p onto w. The header's length, checksum and magic
// fields are stamped from the current payload.
func WritePacket(w io.Writer, p *Packet) (err error) {
	var (
		nw int64
	)
	p.Msg.DataLength = uint32(len(p.Data))
	p.Msg.DataCheck = Checksum(p.Data)
	p.Msg.Magic = p.Msg.Command ^ 0xffffffff
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	head := pool.GetBytes(HeaderLength)
	defer pool.PutBytes(head)
	binary.LittleEndian.PutUint32(head[0:], p.Msg.Command)
	binary.LittleEndian.PutUint32(head[4:], p.Msg.Arg0)
	binary.LittleEndian.PutUint32(head[8:], p.Msg.Arg1)
	binary.LittleEndian.PutUint32(head[12:], p.Msg.DataLength)
	binary.LittleEndian.PutUint32(head[16:], p.Msg.DataCheck)
	binary.LittleEndian.PutUint32(head[20:], p.Msg.Magic)
	buf.Write(head)
	if len(p.Data) > 0 {
		buf.Write(p.Data)
	}
	if nw, err = buf.WriteTo(w); err == nil {
		if nw < int64(HeaderLength+len(p.Data)) {
			err = io.ErrShortWrite
		}
	}
	return
}

// ReadPacket decodes one framed packet from r. maxPayload bounds the
// declared payload length; the packet buffer is allocated at that capacity
// so it can be handed to a local socket backlog unchanged.
func ReadPacket(r io.Reader, maxPayload int) (p *Packet, err error) {
	head := pool.GetBytes(HeaderLength)
	defer pool.PutBytes(head)
	if _, err = io.ReadFull(r, head); err != nil {
		return
	}
	msg := Message{
		Command:    binary.LittleEndian.Uint32(head[0:]),
		Arg0:       binary.LittleEndian.Uint32(head[4:]),
		Arg1:       binary.LittleEndian.Uint32(head[8:]),
		DataLength: binary.LittleEndian.Uint32(head[12:]),
		DataCheck:  binary.LittleEndian.Uint32(head[16:]),
		Magic:      binary.LittleEndian.Uint32(head[20:]),
	}
	if msg.Command != msg.Magic^0xffffffff {
		return nil, fmt.Errorf("invalid packet magic for command %s", CommandName(msg.Command))
	}
	if int(msg.DataLength) > maxPayload {
		return nil, fmt.Errorf("packet payload %d exceeds limit %d", msg.DataLength, maxPayload)
	}
	p = New(maxPayload)
	p.Msg = msg
	if msg.DataLength > 0 {
		p.Data = p.Buffer()[:msg.DataLength]
		if _, err = io.ReadFull(r, p.Data); err != nil {
			Put(p)
			return nil, err
		}
		if Checksum(p.Data) != msg.DataCheck {
			Put(p)
			return nil, fmt.Errorf("packet checksum mismatch on %s", CommandName(msg.Command))
		}
	}
	return
}
