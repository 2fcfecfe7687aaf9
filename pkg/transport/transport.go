package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/uole/dbridge/pkg/packet"
)

// Kind narrows which transports a request may select.
type Kind int

const (
	KindAny Kind = iota
	KindUSB
	KindLocal
)

func (k Kind) String() string {
	switch k {
	case KindUSB:
		return "usb"
	case KindLocal:
		return "local"
	}
	return "any"
}

// State is the connection state of a transport.
type State int32

const (
	StateOffline State = iota
	StateOnline
)

func (s State) String() string {
	if s == StateOnline {
		return "online"
	}
	return "offline"
}

// Transport is a framed packet channel to the other side of the bridge.
// SendPacket takes ownership of the packet.
type Transport interface {
	ID() string
	Serial() string
	Kind() Kind
	ConnectionState() State
	MaxPayload() int
	SendPacket(p *packet.Packet) error
}

var (
	ErrNoDevices = errors.New("no devices found")
	ErrAmbiguous = errors.New("more than one device")
)

// Registry tracks the live transports by id and serial.
type Registry struct {
	mutex sync.RWMutex
	peers map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

func (r *Registry) Register(t *Peer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.peers[t.ID()] = t
}

func (r *Registry) Unregister(t *Peer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.peers, t.ID())
}

func (r *Registry) List() []*Peer {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	ts := make([]*Peer, 0, len(r.peers))
	for _, t := range r.peers {
		ts = append(ts, t)
	}
	return ts
}

// Acquire selects one transport. A nonempty serial matches exactly; with no
// serial the kind filter applies, and the match must be unique.
func (r *Registry) Acquire(kind Kind, serial string) (t *Peer, err error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if serial != "" {
		for _, p := range r.peers {
			if p.Serial() == serial {
				return p, nil
			}
		}
		return nil, fmt.Errorf("device '%s' not found", serial)
	}
	for _, p := range r.peers {
		if kind != KindAny && p.Kind() != kind {
			continue
		}
		if t != nil {
			return nil, ErrAmbiguous
		}
		t = p
	}
	if t == nil {
		return nil, ErrNoDevices
	}
	return t, nil
}
