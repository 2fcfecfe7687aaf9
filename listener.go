package dbridge

import (
	"net"

	"git.nspix.com/golang/kos/pkg/log"
	"github.com/uole/dbridge/internal/socket"
	"github.com/uole/dbridge/pkg/fdevent"
	"golang.org/x/sys/unix"
)

// listenFrontDoor opens the client-facing listener as a raw fd on the
// event loop; accepted connections become smart-socket pairs.
func (svr *Server) listenFrontDoor(addr string) (err error) {
	var (
		fd    int
		taddr *net.TCPAddr
	)
	if taddr, err = net.ResolveTCPAddr("tcp4", addr); err != nil {
		return
	}
	ip := taddr.IP.To4()
	if ip == nil {
		ip = net.IPv4zero.To4()
	}
	if fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0); err != nil {
		return
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	sa := &unix.SockaddrInet4{Port: taddr.Port}
	copy(sa.Addr[:], ip)
	if err = unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return
	}
	if err = unix.Listen(fd, 128); err != nil {
		_ = unix.Close(fd)
		return
	}
	var fde *fdevent.FDEvent
	if fde, err = svr.loop.Install(fd, svr.onAccept); err != nil {
		_ = unix.Close(fd)
		return
	}
	fde.Add(fdevent.Read)
	return
}

// onAccept drains the accept queue. Loop goroutine.
func (svr *Server) onAccept(fd int, ev fdevent.Events) {
	if ev&fdevent.Read == 0 {
		return
	}
	for {
		nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if err != unix.EAGAIN {
				log.Warnf("front door accept: %s", err.Error())
			}
			return
		}
		s, err := svr.registry.CreateLocal(nfd)
		if err != nil {
			log.Warnf("front door register: %s", err.Error())
			_ = unix.Close(nfd)
			continue
		}
		socket.ConnectToSmartSocket(s)
	}
}
