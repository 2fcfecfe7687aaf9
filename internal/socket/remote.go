package socket

import (
	"git.nspix.com/golang/kos/pkg/log"
	"github.com/uole/dbridge/pkg/packet"
	"github.com/uole/dbridge/pkg/transport"
)

// RemoteSocket mirrors a socket on the other side of a transport. It has
// no fd and no backlog; operations translate to outbound protocol packets
// and the transport owns its own flow control.
type RemoteSocket struct {
	id        uint32
	peer      Socket
	transport transport.Transport
}

func (s *RemoteSocket) ID() uint32 {
	return s.id
}

func (s *RemoteSocket) Peer() Socket {
	return s.peer
}

func (s *RemoteSocket) SetPeer(peer Socket) {
	s.peer = peer
}

func (s *RemoteSocket) Transport() transport.Transport {
	return s.transport
}

// Enqueue frames p as WRTE toward the other side. Always not-ready: the
// peer's reads stay paused until the matching OKAY arrives off the wire.
func (s *RemoteSocket) Enqueue(p *packet.Packet) int {
	p.Msg.Command = packet.CmdWrite
	p.Msg.Arg0 = s.peer.ID()
	p.Msg.Arg1 = s.id
	if err := s.transport.SendPacket(p); err != nil {
		log.Debugf("RS(%d): send WRTE: %s", s.id, err.Error())
	}
	return EnqueueNotReady
}

// Ready tells the other side we can take more data.
func (s *RemoteSocket) Ready() {
	p := packet.New(0)
	p.Msg.Command = packet.CmdOkay
	p.Msg.Arg0 = s.peer.ID()
	p.Msg.Arg1 = s.id
	if err := s.transport.SendPacket(p); err != nil {
		log.Debugf("RS(%d): send OKAY: %s", s.id, err.Error())
	}
}

// Shutdown emits CLSE. This is the only place a teardown reaches the wire;
// Close is purely local, and every internal path runs Shutdown first.
func (s *RemoteSocket) Shutdown() {
	p := packet.New(0)
	p.Msg.Command = packet.CmdClose
	if s.peer != nil {
		p.Msg.Arg0 = s.peer.ID()
	}
	p.Msg.Arg1 = s.id
	if err := s.transport.SendPacket(p); err != nil {
		log.Debugf("RS(%d): send CLSE: %s", s.id, err.Error())
	}
}

func (s *RemoteSocket) Close() {
	if s.peer != nil {
		peer := s.peer
		peer.SetPeer(nil)
		s.peer = nil
		log.Debugf("RS(%d): closing peer %d", s.id, peer.ID())
		peer.Close()
	}
}

// NewRemoteSocket wraps the other side's stream id in a socket bound to
// transport t. The id is allocated by the remote side and cannot be zero.
func NewRemoteSocket(id uint32, t transport.Transport) *RemoteSocket {
	if id == 0 {
		panic("invalid remote socket id (0)")
	}
	return &RemoteSocket{id: id, transport: t}
}

// ConnectToRemote emits OPEN for destination on s's transport, asking the
// other side to bind a service to this socket.
func ConnectToRemote(s *LocalSocket, destination string) {
	max := s.maxPayload()
	if len(destination)+1 > max-1 {
		panic("destination oversized")
	}
	log.Debugf("LS(%d): connect('%s')", s.id, destination)
	p := packet.New(len(destination) + 1)
	p.Msg.Command = packet.CmdOpen
	p.Msg.Arg0 = s.id
	p.Data = append(p.Data, destination...)
	p.Data = append(p.Data, 0)
	if err := s.transport.SendPacket(p); err != nil {
		log.Debugf("LS(%d): send OPEN: %s", s.id, err.Error())
	}
}
