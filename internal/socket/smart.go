package socket

import (
	"strings"

	"git.nspix.com/golang/kos/pkg/log"
	"github.com/uole/dbridge/pkg/packet"
	"github.com/uole/dbridge/pkg/transport"
)

// SmartSocket parses the first request from an accepted connection, then
// either services it on the spot or rewires its peer to a freshly opened
// local or remote service socket and removes itself.
//
// Requests arrive as four ASCII hex digits of length followed by exactly
// that many payload bytes.
type SmartSocket struct {
	registry  *Registry
	peer      *LocalSocket
	pkt       *packet.Packet
	transport transport.Transport
}

func (s *SmartSocket) ID() uint32 {
	return 0
}

func (s *SmartSocket) Peer() Socket {
	if s.peer == nil {
		return nil
	}
	return s.peer
}

func (s *SmartSocket) SetPeer(peer Socket) {
	if peer == nil {
		s.peer = nil
		return
	}
	s.peer = peer.(*LocalSocket)
}

func (s *SmartSocket) Transport() transport.Transport {
	return s.transport
}

// SetTransport records a transport selection made by the host request
// handler; the next request on this connection is forwarded over it.
func (s *SmartSocket) SetTransport(t transport.Transport) {
	s.transport = t
}

func (s *SmartSocket) maxPayload() int {
	var peer transport.Transport
	if s.peer != nil {
		peer = s.peer.Transport()
	}
	return maxPayloadFor(s.transport, peer)
}

// fail tears down this socket and its peer. The negative return tells the
// local socket feeding us that it no longer exists.
func (s *SmartSocket) fail() int {
	s.Close()
	return EnqueueClosed
}

func (s *SmartSocket) Enqueue(p *packet.Packet) int {
	log.Debugf("SS: enqueue %d", len(p.Data))
	if s.pkt == nil {
		p.Ptr = 0
		s.pkt = p
	} else {
		if len(s.pkt.Data)+len(p.Data) > s.maxPayload() {
			log.Debugf("SS: request overflow")
			packet.Put(p)
			return s.fail()
		}
		s.pkt.Data = append(s.pkt.Data, p.Data...)
		packet.Put(p)
	}
	data := s.pkt.Data
	if len(data) < 4 {
		return EnqueueReady
	}
	length := Unhex(data[:4])
	if length < 1 || length > packet.MaxPayloadV1 {
		log.Debugf("SS: bad request size (%d)", length)
		return s.fail()
	}
	if int(length)+4 > len(data) {
		// Wait for the rest of the payload.
		return EnqueueReady
	}
	request := string(data[4 : 4+int(length)])
	log.Debugf("SS: '%s'", request)

	env := s.registry.env
	if env.Role == RoleHost {
		var (
			matched bool
			serial  string
			service string
			kind    = transport.KindAny
		)
		switch {
		case strings.HasPrefix(request, "host-serial:"):
			matched = true
			service = request[len("host-serial:"):]
			if idx := SkipHostSerial(service); idx >= 0 {
				serial = service[:idx]
				service = service[idx+1:]
			}
		case strings.HasPrefix(request, "host-usb:"):
			matched = true
			kind = transport.KindUSB
			service = request[len("host-usb:"):]
		case strings.HasPrefix(request, "host-local:"):
			matched = true
			kind = transport.KindLocal
			service = request[len("host-local:"):]
		case strings.HasPrefix(request, "host:"):
			matched = true
			service = request[len("host:"):]
		}
		if matched {
			if env.HandleHostRequest(service, kind, serial, s.peer.FD(), s) == 0 {
				// OKAY/FAIL already written by the handler.
				log.Debugf("SS: handled host service '%s'", service)
				return s.fail()
			}
			if strings.HasPrefix(service, "transport") {
				// Selection recorded via SetTransport; ready for the
				// next request on the same connection.
				s.pkt.Data = s.pkt.Data[:0]
				return EnqueueReady
			}
			s2, err := env.HostService(service, serial)
			if err != nil || s2 == nil {
				log.Debugf("SS: no host service '%s'", service)
				_ = SendFail(s.peer.FD(), "unknown host service")
				return s.fail()
			}
			// Bound to a host service: turn the peer back into a plain
			// local socket, pair it with the service and retire.
			_ = SendOkay(s.peer.FD())
			peer := s.peer
			peer.mode = modeNormal
			peer.peer = s2
			s2.SetPeer(peer)
			s.peer = nil
			s.Close()
			s2.Ready()
			return EnqueueReady
		}
	} else if s.transport == nil {
		t, err := env.Transports.Acquire(transport.KindAny, "")
		if err != nil {
			_ = SendFail(s.peer.FD(), err.Error())
			return s.fail()
		}
		s.transport = t
	}

	if s.transport == nil {
		_ = SendFail(s.peer.FD(), "device offline (no transport)")
		return s.fail()
	}
	if s.transport.ConnectionState() == transport.StateOffline {
		_ = SendFail(s.peer.FD(), "device offline (transport offline)")
		return s.fail()
	}

	// Rig the peer to report the success or failure status when the other
	// side answers, detach from it, request the connection and retire.
	peer := s.peer
	peer.mode = modeNotify
	peer.peer = nil
	peer.transport = s.transport
	ConnectToRemote(peer, request)
	s.peer = nil
	s.Close()
	return EnqueueNotReady
}

func (s *SmartSocket) Ready() {
	log.Debugf("SS: ready")
}

func (s *SmartSocket) Shutdown() {
}

func (s *SmartSocket) Close() {
	log.Debugf("SS: closed")
	if s.pkt != nil {
		packet.Put(s.pkt)
		s.pkt = nil
	}
	if s.peer != nil {
		peer := s.peer
		peer.peer = nil
		s.peer = nil
		peer.Close()
	}
}

// ConnectToSmartSocket pairs an accepted local socket with a fresh smart
// socket and starts it reading.
func ConnectToSmartSocket(s *LocalSocket) {
	ss := &SmartSocket{registry: s.registry}
	s.peer = ss
	ss.peer = s
	s.Ready()
}
