package socket

import (
	"git.nspix.com/golang/kos/pkg/log"
	"github.com/uole/dbridge/pkg/fdevent"
	"github.com/uole/dbridge/pkg/packet"
	"github.com/uole/dbridge/pkg/transport"
	"golang.org/x/sys/unix"
)

// peerMode is the one-shot status-line behavior installed by a smart
// socket: the first Ready or Close on a rewired peer reports OKAY or FAIL
// on the fd exactly once, then the socket behaves normally.
type peerMode int

const (
	modeNormal peerMode = iota
	modeNotify
)

// LocalSocket is the fd-backed endpoint. Reads forward packets to the
// peer; writes drain the peer's packets onto the fd through a backlog.
type LocalSocket struct {
	next, prev *LocalSocket

	registry  *Registry
	id        uint32
	fd        int
	fde       *fdevent.FDEvent
	peer      Socket
	transport transport.Transport

	pktFirst *packet.Packet
	pktLast  *packet.Packet

	closing       bool
	hasWriteError bool
	exitOnClose   bool
	mode          peerMode
}

func (s *LocalSocket) ID() uint32 {
	return s.id
}

func (s *LocalSocket) FD() int {
	return s.fd
}

func (s *LocalSocket) Peer() Socket {
	return s.peer
}

func (s *LocalSocket) SetPeer(peer Socket) {
	s.peer = peer
}

func (s *LocalSocket) Transport() transport.Transport {
	return s.transport
}

func (s *LocalSocket) SetTransport(t transport.Transport) {
	s.transport = t
}

// FDE exposes the event registration for force-EOF control.
func (s *LocalSocket) FDE() *fdevent.FDEvent {
	return s.fde
}

func (s *LocalSocket) maxPayload() int {
	var peer transport.Transport
	if s.peer != nil {
		peer = s.peer.Transport()
	}
	return maxPayloadFor(s.transport, peer)
}

// Enqueue pushes p toward the fd. With an empty backlog the payload is
// written opportunistically; whatever does not fit is queued and WRITE
// interest armed. The return value tells the peer whether to keep reading.
func (s *LocalSocket) Enqueue(p *packet.Packet) int {
	log.Debugf("LS(%d): enqueue %d", s.id, len(p.Data))
	p.Ptr = 0
	if s.pktFirst == nil {
		for p.Len() > 0 {
			n, err := unix.Write(s.fd, p.Remaining())
			if n > 0 {
				p.Advance(n)
				continue
			}
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				break
			}
			log.Debugf("LS(%d): write failed: %v", s.id, err)
			packet.Put(p)
			s.hasWriteError = true
			s.Close()
			return EnqueueNotReady
		}
		if p.Len() == 0 {
			packet.Put(p)
			return EnqueueReady
		}
	}
	p.Next = nil
	if s.pktFirst != nil {
		s.pktLast.Next = p
	} else {
		s.pktFirst = p
	}
	s.pktLast = p
	s.fde.Add(fdevent.Write)
	return EnqueueNotReady
}

// Ready re-enables readable events; the far side can take more data.
func (s *LocalSocket) Ready() {
	if s.mode == modeNotify {
		s.mode = modeNormal
		_ = SendOkay(s.fd)
	}
	s.fde.Add(fdevent.Read)
}

func (s *LocalSocket) Shutdown() {
}

func (s *LocalSocket) Close() {
	log.Debugf("LS(%d): close fd=%d", s.id, s.fd)
	if s.mode == modeNotify {
		s.mode = modeNormal
		_ = SendFail(s.fd, "closed")
	}
	if s.peer != nil {
		// Shutdown before the link is broken, so the teardown packet can
		// still carry this socket's id.
		peer := s.peer
		peer.Shutdown()
		peer.SetPeer(nil)
		s.peer = nil
		peer.Close()
	}
	if s.closing || s.hasWriteError || s.pktFirst == nil {
		id := s.id
		s.destroy()
		log.Debugf("LS(%d): closed", id)
		return
	}
	log.Debugf("LS(%d): closing, draining backlog", s.id)
	s.closing = true
	s.fde.Del(fdevent.Read)
	s.registry.Remove(s)
	s.registry.insert(s, &s.registry.closing)
	if s.fde.State()&fdevent.Write == 0 {
		panic("local socket closing with write interest disabled")
	}
}

// destroy removes the event registration (closing the fd), releases any
// queued packets and unlinks the socket.
func (s *LocalSocket) destroy() {
	exit := s.exitOnClose
	s.fde.Remove()
	for p := s.pktFirst; p != nil; {
		n := p.Next
		packet.Put(p)
		p = n
	}
	s.pktFirst, s.pktLast = nil, nil
	s.registry.Remove(s)
	if exit {
		osExit(1)
	}
}

// onEvent handles readiness events. WRITE runs before READ so that read
// processing always observes a drained-or-armed backlog.
func (s *LocalSocket) onEvent(fd int, ev fdevent.Events) {
	if ev&fdevent.Write != 0 {
		for p := s.pktFirst; p != nil; p = s.pktFirst {
			for p.Len() > 0 {
				n, err := unix.Write(fd, p.Remaining())
				if n > 0 {
					p.Advance(n)
					continue
				}
				if err == unix.EINTR {
					continue
				}
				if err == unix.EAGAIN {
					// READ will be processed on the next loop iteration.
					return
				}
				log.Debugf("LS(%d): drain write failed: %v", s.id, err)
				s.hasWriteError = true
				s.Close()
				return
			}
			s.pktFirst = p.Next
			if s.pktFirst == nil {
				s.pktLast = nil
			}
			packet.Put(p)
		}
		if s.closing {
			// Last packet of a closing socket flushed.
			s.Close()
			return
		}
		s.fde.Del(fdevent.Write)
		s.peer.Ready()
	}
	if ev&fdevent.Read != 0 {
		maxPayload := s.maxPayload()
		p := packet.New(maxPayload)
		buf := p.Buffer()[:maxPayload]
		avail := maxPayload
		eof := false
		r := 0
		for avail > 0 {
			n, err := unix.Read(fd, buf[maxPayload-avail:])
			if n > 0 {
				avail -= n
				continue
			}
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				r = -1
				break
			}
			eof = true
			break
		}
		if avail == maxPayload || s.peer == nil {
			packet.Put(p)
		} else {
			p.Data = buf[:maxPayload-avail]
			p.Ptr = 0
			// Enqueue may close and destroy this socket as a side effect.
			r = s.peer.Enqueue(p)
			if r < 0 {
				return
			}
			if r > 0 {
				// Peer saturated; Ready will re-arm reads.
				s.fde.Del(fdevent.Read)
			}
		}
		if (s.fde.ForceEOF() && r == 0) || eof {
			s.Close()
			return
		}
	}
	// Error events are surfaced by the next read or write.
}
