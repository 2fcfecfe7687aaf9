package socket

import (
	"git.nspix.com/golang/kos/pkg/log"
	"github.com/uole/dbridge/internal/sequence"
	"github.com/uole/dbridge/pkg/fdevent"
	"github.com/uole/dbridge/pkg/transport"
)

// Registry is the process-wide table of live local sockets plus the list of
// sockets draining their backlog after a logical close.
//
// The registry carries no lock: every socket and registry operation runs on
// the event-loop goroutine (cross-thread producers post work through
// fdevent.Loop.Run), so close cascades that re-enter the registry are plain
// same-goroutine recursion.
type Registry struct {
	loop    *fdevent.Loop
	env     *Env
	ids     *sequence.Sequence
	live    LocalSocket
	closing LocalSocket
}

func NewRegistry(loop *fdevent.Loop, env *Env) *Registry {
	r := &Registry{loop: loop, env: env, ids: &sequence.Sequence{}}
	r.live.next, r.live.prev = &r.live, &r.live
	r.closing.next, r.closing.prev = &r.closing, &r.closing
	return r
}

func (r *Registry) Loop() *fdevent.Loop {
	return r.loop
}

func (r *Registry) Env() *Env {
	return r.env
}

func (r *Registry) insert(s *LocalSocket, list *LocalSocket) {
	s.next = list
	s.prev = list.prev
	s.prev.next = s
	s.next.prev = s
}

// Install assigns the socket its nonzero id and links it into the live
// list. Id-space exhaustion panics.
func (r *Registry) Install(s *LocalSocket) {
	s.id = r.ids.Next()
	r.insert(s, &r.live)
}

// Remove unlinks the socket from whichever list holds it; tolerates a
// socket that is already unlinked.
func (r *Registry) Remove(s *LocalSocket) {
	if s.prev != nil && s.next != nil {
		s.prev.next = s.next
		s.next.prev = s.prev
		s.next = nil
		s.prev = nil
		s.id = 0
	}
}

// Find returns the live socket with id localID. A nonzero peerID must also
// match the socket's paired peer. Ids are unique, so the scan stops at the
// first id match either way.
func (r *Registry) Find(localID, peerID uint32) *LocalSocket {
	for s := r.live.next; s != &r.live; s = s.next {
		if s.id != localID {
			continue
		}
		if peerID == 0 || (s.peer != nil && s.peer.ID() == peerID) {
			return s
		}
		break
	}
	return nil
}

// CloseAllFor closes every live socket attached to transport t on either
// side of its pairing. Close mutates the list out from under the scan, so
// the scan restarts from the head after every hit.
func (r *Registry) CloseAllFor(t transport.Transport) {
restart:
	for s := r.live.next; s != &r.live; s = s.next {
		if s.transport == t || (s.peer != nil && s.peer.Transport() == t) {
			s.Close()
			goto restart
		}
	}
}

// CreateLocal wraps an owned fd in an installed local socket registered
// with the event loop.
func (r *Registry) CreateLocal(fd int) (s *LocalSocket, err error) {
	s = &LocalSocket{registry: r, fd: fd}
	r.Install(s)
	if s.fde, err = r.loop.Install(fd, s.onEvent); err != nil {
		r.Remove(s)
		return nil, err
	}
	log.Debugf("LS(%d): created fd=%d", s.id, fd)
	return
}

// SocketInfo is a diagnostic snapshot row.
type SocketInfo struct {
	ID      uint32 `json:"id"`
	FD      int    `json:"fd"`
	Closing bool   `json:"closing"`
	Backlog int    `json:"backlog"`
	Peer    uint32 `json:"peer"`
}

// Snapshot reports the live and closing lists. Loop goroutine only.
func (r *Registry) Snapshot() []SocketInfo {
	rows := make([]SocketInfo, 0, 16)
	for _, list := range []*LocalSocket{&r.live, &r.closing} {
		for s := list.next; s != list; s = s.next {
			row := SocketInfo{ID: s.id, FD: s.fd, Closing: s.closing}
			for p := s.pktFirst; p != nil; p = p.Next {
				row.Backlog += p.Len()
			}
			if s.peer != nil {
				row.Peer = s.peer.ID()
			}
			rows = append(rows, row)
		}
	}
	return rows
}
