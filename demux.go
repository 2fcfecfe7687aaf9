package dbridge

import (
	"bytes"

	"git.nspix.com/golang/kos/pkg/log"
	"github.com/uole/dbridge/internal/socket"
	"github.com/uole/dbridge/pkg/packet"
	"github.com/uole/dbridge/pkg/transport"
)

// onPacket runs on a carrier read goroutine; every socket mutation is
// posted onto the event loop.
func (svr *Server) onPacket(t *transport.Peer, p *packet.Packet) {
	svr.loop.Run(func() {
		svr.handlePacket(t, p)
	})
}

func (svr *Server) sendReady(localID, remoteID uint32, t *transport.Peer) {
	p := packet.New(0)
	p.Msg.Command = packet.CmdOkay
	p.Msg.Arg0 = localID
	p.Msg.Arg1 = remoteID
	_ = t.SendPacket(p)
}

func (svr *Server) sendClose(localID, remoteID uint32, t *transport.Peer) {
	p := packet.New(0)
	p.Msg.Command = packet.CmdClose
	p.Msg.Arg0 = localID
	p.Msg.Arg1 = remoteID
	_ = t.SendPacket(p)
}

// handlePacket routes one inbound packet to its stream. Loop goroutine.
func (svr *Server) handlePacket(t *transport.Peer, p *packet.Packet) {
	msg := p.Msg
	log.Debugf("demux: %s from %s", msg.String(), t.ID())
	switch msg.Command {
	case packet.CmdOpen:
		svr.handleOpen(t, p)
		return
	case packet.CmdOkay:
		if msg.Arg1 != 0 {
			if s := svr.registry.Find(msg.Arg1, 0); s != nil {
				if s.Peer() == nil {
					// Completion of our OPEN: the other side allocated
					// its id, pair up.
					rs := socket.NewRemoteSocket(msg.Arg0, t)
					rs.SetPeer(s)
					s.SetPeer(rs)
				}
				s.Ready()
			}
		}
	case packet.CmdWrite:
		if msg.Arg0 != 0 && msg.Arg1 != 0 {
			if s := svr.registry.Find(msg.Arg1, msg.Arg0); s != nil {
				// Enqueue owns the packet and may destroy s; save the
				// ids first. A ready result is our cue to let the other
				// side keep sending.
				localID := s.ID()
				if s.Enqueue(p) == socket.EnqueueReady {
					svr.sendReady(localID, msg.Arg0, t)
				}
				return
			}
		}
	case packet.CmdClose:
		if msg.Arg1 != 0 {
			if s := svr.registry.Find(msg.Arg1, msg.Arg0); s != nil {
				s.Close()
			}
		}
	default:
		log.Warnf("demux: unsupported command %s", packet.CommandName(msg.Command))
	}
	packet.Put(p)
}

// handleOpen binds a named service to the stream the other side opened.
func (svr *Server) handleOpen(t *transport.Peer, p *packet.Packet) {
	defer packet.Put(p)
	if p.Msg.Arg0 == 0 || len(p.Data) == 0 {
		return
	}
	name := string(bytes.TrimRight(p.Data, "\x00"))
	s, err := svr.registry.CreateLocalServiceSocket(name, t)
	if err != nil {
		log.Debugf("demux: open '%s' failed: %s", name, err.Error())
		svr.sendClose(0, p.Msg.Arg0, t)
		return
	}
	rs := socket.NewRemoteSocket(p.Msg.Arg0, t)
	rs.SetPeer(s)
	s.SetPeer(rs)
	rs.Ready()
	s.Ready()
}
