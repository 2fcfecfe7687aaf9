package fdevent

import (
	"context"
	"sync"
	"sync/atomic"

	"git.nspix.com/golang/kos/pkg/log"
	"golang.org/x/sys/unix"
)

// Events is an interest/readiness mask over a registered descriptor.
type Events uint32

const (
	Read Events = 1 << iota
	Write
	Error
)

// Handler receives readiness events on the loop goroutine.
type Handler func(fd int, ev Events)

// FDEvent is one descriptor registration: fd, interest mask and handler.
// The registration owns the fd; Remove closes it.
type FDEvent struct {
	fd       int
	loop     *Loop
	handler  Handler
	state    Events
	forceEOF bool
	removed  bool
}

func (fde *FDEvent) FD() int {
	return fde.fd
}

// State returns the current interest mask.
func (fde *FDEvent) State() Events {
	return fde.state
}

// SetForceEOF marks the descriptor as logically at end-of-file; the owner
// consults it once the fd stops producing bytes.
func (fde *FDEvent) SetForceEOF(v bool) {
	fde.forceEOF = v
}

func (fde *FDEvent) ForceEOF() bool {
	return fde.forceEOF
}

// Add enables interest in ev.
func (fde *FDEvent) Add(ev Events) {
	fde.update(fde.state | ev)
}

// Del disables interest in ev.
func (fde *FDEvent) Del(ev Events) {
	fde.update(fde.state &^ ev)
}

func (fde *FDEvent) update(state Events) {
	if fde.removed {
		return
	}
	if state == fde.state {
		return
	}
	fde.state = state
	var ev unix.EpollEvent
	ev.Fd = int32(fde.fd)
	if state&Read != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if state&Write != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	if err := unix.EpollCtl(fde.loop.epfd, unix.EPOLL_CTL_MOD, fde.fd, &ev); err != nil {
		log.Warnf("fdevent: mod fd %d: %s", fde.fd, err.Error())
	}
}

// Remove unregisters the descriptor and closes the fd.
func (fde *FDEvent) Remove() {
	if fde.removed {
		return
	}
	fde.removed = true
	fde.loop.forget(fde)
	_ = unix.EpollCtl(fde.loop.epfd, unix.EPOLL_CTL_DEL, fde.fd, nil)
	_ = unix.Close(fde.fd)
}

// Loop is a readiness event loop. All handlers and functions posted via Run
// execute on the single goroutine inside Serve; code touching sockets is
// confined to that goroutine.
type Loop struct {
	epfd     int
	wakeR    int
	wakeW    int
	mutex    sync.Mutex
	table    map[int]*FDEvent
	funcs    []func()
	stopping int32
}

func NewLoop() (l *Loop, err error) {
	l = &Loop{table: make(map[int]*FDEvent)}
	if l.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return nil, err
	}
	var fds [2]int
	if err = unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(l.epfd)
		return nil, err
	}
	l.wakeR, l.wakeW = fds[0], fds[1]
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(l.wakeR)}
	if err = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, l.wakeR, &ev); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Install registers fd with the loop at empty interest and takes ownership
// of it. The fd is switched to non-blocking mode.
func (l *Loop) Install(fd int, handler Handler) (fde *FDEvent, err error) {
	if err = unix.SetNonblock(fd, true); err != nil {
		return
	}
	fde = &FDEvent{fd: fd, loop: l, handler: handler}
	ev := unix.EpollEvent{Fd: int32(fd)}
	if err = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, err
	}
	l.mutex.Lock()
	l.table[fd] = fde
	l.mutex.Unlock()
	return
}

func (l *Loop) forget(fde *FDEvent) {
	l.mutex.Lock()
	if l.table[fde.fd] == fde {
		delete(l.table, fde.fd)
	}
	l.mutex.Unlock()
}

func (l *Loop) lookup(fd int) *FDEvent {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.table[fd]
}

// Run posts fn to the loop goroutine and wakes it.
func (l *Loop) Run(fn func()) {
	l.mutex.Lock()
	l.funcs = append(l.funcs, fn)
	l.mutex.Unlock()
	one := [1]byte{0x01}
	_, _ = unix.Write(l.wakeW, one[:])
}

func (l *Loop) drainFuncs() {
	for {
		l.mutex.Lock()
		if len(l.funcs) == 0 {
			l.mutex.Unlock()
			return
		}
		fn := l.funcs[0]
		l.funcs = l.funcs[1:]
		l.mutex.Unlock()
		fn()
	}
}

func (l *Loop) drainWake() {
	buf := make([]byte, 64)
	for {
		if _, err := unix.Read(l.wakeR, buf); err != nil {
			return
		}
	}
}

// Serve dispatches events until ctx is cancelled.
func (l *Loop) Serve(ctx context.Context) (err error) {
	var (
		n      int
		events [64]unix.EpollEvent
	)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&l.stopping, 1)
			one := [1]byte{0x01}
			_, _ = unix.Write(l.wakeW, one[:])
		case <-stop:
		}
	}()
	for atomic.LoadInt32(&l.stopping) == 0 {
		if n, err = unix.EpollWait(l.epfd, events[:], -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == l.wakeR {
				l.drainWake()
				continue
			}
			fde := l.lookup(fd)
			if fde == nil || fde.removed {
				continue
			}
			var ev Events
			if events[i].Events&unix.EPOLLIN != 0 {
				ev |= Read
			}
			if events[i].Events&unix.EPOLLOUT != 0 {
				ev |= Write
			}
			if events[i].Events&unix.EPOLLHUP != 0 {
				ev |= Read | Error
			}
			if events[i].Events&unix.EPOLLERR != 0 {
				ev |= Error
			}
			ev &= fde.state | Error | Read
			if ev != 0 {
				fde.handler(fd, ev)
			}
		}
		l.drainFuncs()
	}
	return ctx.Err()
}

func (l *Loop) Close() (err error) {
	atomic.StoreInt32(&l.stopping, 1)
	err = unix.Close(l.epfd)
	_ = unix.Close(l.wakeR)
	_ = unix.Close(l.wakeW)
	return
}
