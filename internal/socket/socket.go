package socket

import (
	"fmt"
	"os"

	"github.com/uole/dbridge/pkg/packet"
	"github.com/uole/dbridge/pkg/transport"
	"golang.org/x/sys/unix"
)

// Enqueue results. A negative result means the callee closed the caller as
// a side effect and the caller must return immediately.
const (
	EnqueueReady    = 0
	EnqueueNotReady = 1
	EnqueueClosed   = -1
)

// Socket is one endpoint of a multiplexed logical connection. The three
// variants are LocalSocket (fd-backed), RemoteSocket (transport-backed) and
// SmartSocket (transient request parser).
type Socket interface {
	ID() uint32
	Peer() Socket
	SetPeer(peer Socket)
	Transport() transport.Transport
	// Enqueue pushes a packet toward this endpoint, taking ownership of
	// it, and reports the flow-control state back to the producer.
	Enqueue(p *packet.Packet) int
	// Ready grants this endpoint permission to produce more data.
	Ready()
	// Shutdown announces the coming teardown to the wire, where the
	// variant has a wire to announce on.
	Shutdown()
	Close()
}

// Role selects the request grammar a smart socket speaks: the host side
// parses host-service prefixes, the device side auto-acquires a transport.
type Role int

const (
	RoleHost Role = iota
	RoleDevice
)

// Env provides the external collaborators consulted by smart sockets and
// service socket construction. All hooks run on the event-loop goroutine.
type Env struct {
	Role       Role
	Transports *transport.Registry

	// ServiceToFD opens a named device service and returns its fd.
	ServiceToFD func(name string, t transport.Transport) (int, error)

	// HostService opens a host-side administrative service as a socket.
	HostService func(name, serial string) (*LocalSocket, error)

	// HandleHostRequest services a host request in-line. Returning zero
	// means the handler already wrote OKAY/FAIL to replyFD and the smart
	// socket must tear down; nonzero means not handled here.
	HandleHostRequest func(service string, kind transport.Kind, serial string, replyFD int, ss *SmartSocket) int
}

// osExit is the process-exit sink used by exit-on-close sockets.
var osExit = os.Exit

// maxPayloadFor is the payload ceiling across both ends of a pair.
func maxPayloadFor(own, peer transport.Transport) int {
	max := packet.MaxPayload
	if own != nil && own.MaxPayload() < max {
		max = own.MaxPayload()
	}
	if peer != nil && peer.MaxPayload() < max {
		max = peer.MaxPayload()
	}
	return max
}

// writeFull writes the whole buffer to a (possibly non-blocking) fd,
// spinning through EAGAIN. Used only for short status lines.
func writeFull(fd int, buf []byte) (err error) {
	var n int
	for len(buf) > 0 {
		if n, err = unix.Write(fd, buf); n > 0 {
			buf = buf[n:]
			continue
		} else if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err == nil {
			err = unix.EIO
		}
		return
	}
	return nil
}

// SendOkay writes the success status line to fd.
func SendOkay(fd int) error {
	return writeFull(fd, []byte("OKAY"))
}

// SendFail writes the failure status line with a hex-length-prefixed reason.
func SendFail(fd int, reason string) error {
	if len(reason) > 0xffff {
		reason = reason[:0xffff]
	}
	return writeFull(fd, []byte(fmt.Sprintf("FAIL%04x%s", len(reason), reason)))
}

// SendProtocolString writes a hex-length-prefixed payload to fd, the reply
// body format of host services.
func SendProtocolString(fd int, s string) error {
	if len(s) > 0xffff {
		return fmt.Errorf("protocol string too long (%d)", len(s))
	}
	return writeFull(fd, []byte(fmt.Sprintf("%04x%s", len(s), s)))
}
