package socket

import (
	"strings"

	"git.nspix.com/golang/kos/pkg/log"
	"github.com/uole/dbridge/pkg/transport"
)

// exitOnClosePrefixes name the one-shot meta services: when their socket
// dies the process exits, forcing the client to reconnect against the
// restarted daemon.
var exitOnClosePrefixes = []string{"root:", "unroot:", "usb:", "tcpip:"}

// CreateLocalServiceSocket opens a named device service through the
// dispatcher and wraps its fd in a local socket.
func (r *Registry) CreateLocalServiceSocket(name string, t transport.Transport) (s *LocalSocket, err error) {
	var fd int
	if fd, err = r.env.ServiceToFD(name, t); err != nil {
		return
	}
	if s, err = r.CreateLocal(fd); err != nil {
		return
	}
	log.Debugf("LS(%d): bound to '%s' via %d", s.id, name, fd)
	for _, prefix := range exitOnClosePrefixes {
		if strings.HasPrefix(name, prefix) {
			log.Debugf("LS(%d): enabling exit_on_close", s.id)
			s.exitOnClose = true
			break
		}
	}
	return
}

// CreateHostServiceSocket opens a host-side administrative service.
func (r *Registry) CreateHostServiceSocket(name, serial string) (s *LocalSocket, err error) {
	if s, err = r.env.HostService(name, serial); err == nil && s != nil {
		log.Debugf("LS(%d): bound to host service '%s'", s.id, name)
	}
	return
}
