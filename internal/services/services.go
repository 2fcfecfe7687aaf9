package services

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"git.nspix.com/golang/kos/pkg/log"
	"git.nspix.com/golang/kos/util/pool"
	"github.com/uole/dbridge/pkg/transport"
	"golang.org/x/sys/unix"
)

var (
	dialTimeout = time.Second * 5
)

// Open maps a service name to a connected file descriptor. The caller owns
// the fd. The transport the request arrived on is available for services
// that care; none of the built-ins do.
func Open(name string, t transport.Transport) (fd int, err error) {
	switch {
	case strings.HasPrefix(name, "tcp:"):
		return dialTCP(name[len("tcp:"):])
	case strings.HasPrefix(name, "echo:"):
		return pairService(name, echoLoop)
	case strings.HasPrefix(name, "sink:"):
		return pairService(name, sinkLoop)
	case strings.HasPrefix(name, "root:"),
		strings.HasPrefix(name, "unroot:"),
		strings.HasPrefix(name, "usb:"),
		strings.HasPrefix(name, "tcpip:"):
		return pairService(name, oneshotLoop)
	}
	return -1, fmt.Errorf("unknown service '%s'", name)
}

// Pair returns one end of a connected socketpair as a raw fd and the other
// wrapped for a serving goroutine.
func Pair() (fd int, peer *os.File, err error) {
	var fds [2]int
	if fds, err = unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0); err != nil {
		return -1, nil, err
	}
	return fds[0], os.NewFile(uintptr(fds[1]), "service"), nil
}

func pairService(name string, serve func(name string, f *os.File)) (fd int, err error) {
	var peer *os.File
	if fd, peer, err = Pair(); err != nil {
		return
	}
	go serve(name, peer)
	return
}

func echoLoop(name string, f *os.File) {
	defer f.Close()
	buf := pool.GetBytes(16 * 1024)
	defer pool.PutBytes(buf)
	if _, err := io.CopyBuffer(f, f, buf); err != nil {
		log.Debugf("service %s: %s", name, err.Error())
	}
}

func sinkLoop(name string, f *os.File) {
	defer f.Close()
	buf := pool.GetBytes(16 * 1024)
	defer pool.PutBytes(buf)
	if _, err := io.CopyBuffer(io.Discard, f, buf); err != nil {
		log.Debugf("service %s: %s", name, err.Error())
	}
}

// oneshotLoop acknowledges a meta service and hangs up; the exit-on-close
// policy on the socket does the rest.
func oneshotLoop(name string, f *os.File) {
	defer f.Close()
	_, _ = fmt.Fprintf(f, "restarting (%s)\n", strings.TrimSuffix(name, ":"))
}

func dialTCP(addr string) (fd int, err error) {
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort("127.0.0.1", addr)
	}
	var taddr *net.TCPAddr
	if taddr, err = net.ResolveTCPAddr("tcp4", addr); err != nil {
		return -1, err
	}
	ip := taddr.IP.To4()
	if ip == nil {
		return -1, fmt.Errorf("service address '%s' is not IPv4", addr)
	}
	if fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0); err != nil {
		return -1, err
	}
	sa := &unix.SockaddrInet4{Port: taddr.Port}
	copy(sa.Addr[:], ip)
	if err = connectTimeout(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return
}

// connectTimeout performs a bounded non-blocking connect.
func connectTimeout(fd int, sa unix.Sockaddr) (err error) {
	if err = unix.SetNonblock(fd, true); err != nil {
		return
	}
	if err = unix.Connect(fd, sa); err == nil {
		return
	}
	if err != unix.EINPROGRESS {
		return
	}
	deadline := time.Now().Add(dialTimeout)
	for {
		var n int
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		if n, err = unix.Poll(fds, 100); err != nil && err != unix.EINTR {
			return
		}
		if n > 0 {
			var soerr int
			if soerr, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); err != nil {
				return
			}
			if soerr != 0 {
				return unix.Errno(soerr)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return unix.ETIMEDOUT
		}
	}
}
