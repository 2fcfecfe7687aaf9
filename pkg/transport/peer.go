package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"git.nspix.com/golang/kos/pkg/log"
	"github.com/rs/xid"
	"github.com/uole/dbridge/pkg/packet"
	"github.com/uole/dbridge/version"
)

var (
	ErrClosed = errors.New("transport closed")
)

type (
	// PacketFunc receives every non-handshake inbound packet. It runs on
	// the carrier read goroutine; callers hand work to the event loop
	// themselves.
	PacketFunc func(t *Peer, p *packet.Packet)

	// StateFunc observes transitions between offline and online.
	StateFunc func(t *Peer, state State)

	// Peer is a Transport over one carrier. It exchanges a connect
	// handshake to negotiate the payload ceiling, then pumps packets.
	Peer struct {
		id         string
		serial     string
		kind       Kind
		carrier    Carrier
		state      int32
		maxPayload int32
		wmutex     sync.Mutex
		onPacket   PacketFunc
		onState    StateFunc
		closeFlag  int32
	}
)

func (t *Peer) ID() string {
	return t.id
}

func (t *Peer) Serial() string {
	return t.serial
}

func (t *Peer) Kind() Kind {
	return t.kind
}

func (t *Peer) ConnectionState() State {
	return State(atomic.LoadInt32(&t.state))
}

func (t *Peer) MaxPayload() int {
	return int(atomic.LoadInt32(&t.maxPayload))
}

// SendPacket frames p onto the carrier and releases it. Serialized so
// packets from different sockets never interleave on the wire.
func (t *Peer) SendPacket(p *packet.Packet) (err error) {
	if atomic.LoadInt32(&t.closeFlag) == 1 {
		packet.Put(p)
		return ErrClosed
	}
	t.wmutex.Lock()
	err = t.carrier.WritePacket(p)
	t.wmutex.Unlock()
	packet.Put(p)
	return
}

func (t *Peer) OnPacket(fn PacketFunc) {
	t.onPacket = fn
}

func (t *Peer) OnState(fn StateFunc) {
	t.onState = fn
}

func (t *Peer) setState(s State) {
	if atomic.SwapInt32(&t.state, int32(s)) == int32(s) {
		return
	}
	if t.onState != nil {
		t.onState(t, s)
	}
}

func (t *Peer) sendConnect() error {
	p := packet.New(len(t.serial) + 1)
	p.Msg.Command = packet.CmdConnect
	p.Msg.Arg0 = version.Protocol
	p.Msg.Arg1 = uint32(packet.MaxPayload)
	p.Data = append(p.Data, t.serial...)
	return t.SendPacket(p)
}

func (t *Peer) handleConnect(p *packet.Packet) {
	if n := int(p.Msg.Arg1); n > 0 && n < t.MaxPayload() {
		atomic.StoreInt32(&t.maxPayload, int32(n))
	}
	if t.serial == "" && len(p.Data) > 0 {
		t.serial = string(p.Data)
	}
	packet.Put(p)
	log.Infof("transport %s online, serial=%s max=%d", t.id, t.serial, t.MaxPayload())
	t.setState(StateOnline)
}

// Serve sends the connect handshake and pumps inbound packets until the
// carrier fails or ctx is cancelled.
func (t *Peer) Serve(ctx context.Context) (err error) {
	var (
		p *packet.Packet
	)
	if err = t.sendConnect(); err != nil {
		return
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = t.Close()
		case <-done:
		}
	}()
	for {
		if p, err = t.carrier.ReadPacket(packet.MaxPayload); err != nil {
			if !errors.Is(err, io.EOF) && atomic.LoadInt32(&t.closeFlag) == 0 {
				log.Warnf("transport %s read error: %s", t.id, err.Error())
			}
			break
		}
		if p.Msg.Command == packet.CmdConnect {
			t.handleConnect(p)
			continue
		}
		if t.onPacket != nil {
			t.onPacket(t, p)
		} else {
			packet.Put(p)
		}
	}
	t.setState(StateOffline)
	return
}

func (t *Peer) Close() (err error) {
	if !atomic.CompareAndSwapInt32(&t.closeFlag, 0, 1) {
		return
	}
	err = t.carrier.Close()
	t.setState(StateOffline)
	return
}

// New wraps a carrier in a transport. The serial may be empty on the
// accepting side; it is then learned from the peer's handshake.
func New(carrier Carrier, serial string, kind Kind) *Peer {
	return &Peer{
		id:         xid.New().String(),
		serial:     serial,
		kind:       kind,
		carrier:    carrier,
		maxPayload: int32(packet.MaxPayload),
	}
}
