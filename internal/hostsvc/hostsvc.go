package hostsvc

import (
	"fmt"
	"os"
	"strings"

	"git.nspix.com/golang/kos/pkg/log"
	"github.com/uole/dbridge/internal/services"
	"github.com/uole/dbridge/internal/socket"
	"github.com/uole/dbridge/pkg/transport"
	"github.com/uole/dbridge/version"
)

// Handle return values, per the smart-socket dispatch contract.
const (
	Handled   = 0
	Unhandled = 1
)

// Handler services host-side administrative requests in-line: the reply is
// written straight to the client fd before the smart socket tears down.
type Handler struct {
	Transports *transport.Registry
	Exit       func(code int)
}

func New(transports *transport.Registry) *Handler {
	return &Handler{
		Transports: transports,
		Exit:       os.Exit,
	}
}

// Handle runs on the event-loop goroutine. Returning Handled means the
// OKAY/FAIL reply has been written and the smart socket must tear down;
// transport selections return Unhandled so the connection survives for the
// follow-up request.
func (h *Handler) Handle(service string, kind transport.Kind, serial string, replyFD int, ss *socket.SmartSocket) int {
	if strings.HasPrefix(service, "transport") {
		return h.selectTransport(service, kind, serial, replyFD, ss)
	}
	switch service {
	case "version":
		_ = socket.SendOkay(replyFD)
		_ = socket.SendProtocolString(replyFD, version.Version)
		return Handled
	case "kill":
		_ = socket.SendOkay(replyFD)
		log.Infof("host: kill requested")
		h.Exit(0)
		return Handled
	case "devices", "devices-l":
		_ = socket.SendOkay(replyFD)
		_ = socket.SendProtocolString(replyFD, h.deviceList(service == "devices-l"))
		return Handled
	case "get-serialno":
		return h.replySerial(kind, serial, replyFD, ss)
	}
	return Unhandled
}

func (h *Handler) deviceList(long bool) string {
	var sb strings.Builder
	for _, t := range h.Transports.List() {
		if long {
			fmt.Fprintf(&sb, "%s\t%s\t%s\n", t.Serial(), t.ConnectionState(), t.Kind())
		} else {
			fmt.Fprintf(&sb, "%s\t%s\n", t.Serial(), t.ConnectionState())
		}
	}
	return sb.String()
}

func (h *Handler) replySerial(kind transport.Kind, serial string, replyFD int, ss *socket.SmartSocket) int {
	t := ss.Transport()
	if t == nil {
		var err error
		if t, err = h.Transports.Acquire(kind, serial); err != nil {
			_ = socket.SendFail(replyFD, err.Error())
			return Handled
		}
	}
	_ = socket.SendOkay(replyFD)
	_ = socket.SendProtocolString(replyFD, t.Serial())
	return Handled
}

// selectTransport resolves transport:<serial> / transport-usb /
// transport-local / transport-any and records the choice on the smart
// socket for the next request.
func (h *Handler) selectTransport(service string, kind transport.Kind, serial string, replyFD int, ss *socket.SmartSocket) int {
	switch {
	case strings.HasPrefix(service, "transport:"):
		serial = service[len("transport:"):]
	case service == "transport-usb":
		kind = transport.KindUSB
	case service == "transport-local":
		kind = transport.KindLocal
	case service == "transport-any":
		kind = transport.KindAny
	}
	t, err := h.Transports.Acquire(kind, serial)
	if err != nil {
		_ = socket.SendFail(replyFD, err.Error())
		return Unhandled
	}
	ss.SetTransport(t)
	_ = socket.SendOkay(replyFD)
	return Unhandled
}

// ServiceSocket opens a host service that runs as a socket of its own
// rather than an in-line reply.
func (h *Handler) ServiceSocket(reg *socket.Registry, name, serial string) (*socket.LocalSocket, error) {
	switch name {
	case "track-devices":
		fd, peer, err := services.Pair()
		if err != nil {
			return nil, err
		}
		go h.trackDevices(peer)
		s, err := reg.CreateLocal(fd)
		if err != nil {
			peer.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown host service '%s'", name)
}

func (h *Handler) trackDevices(f *os.File) {
	defer f.Close()
	list := h.deviceList(false)
	if _, err := fmt.Fprintf(f, "%04x%s", len(list), list); err != nil {
		return
	}
	// Block until the client hangs up; device-list change notification
	// plumbing would publish updates here.
	buf := make([]byte, 1)
	for {
		if _, err := f.Read(buf); err != nil {
			return
		}
	}
}
