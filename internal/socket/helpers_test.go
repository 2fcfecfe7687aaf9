package socket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uole/dbridge/pkg/fdevent"
	"github.com/uole/dbridge/pkg/packet"
	"github.com/uole/dbridge/pkg/transport"
	"golang.org/x/sys/unix"
)

type sentPacket struct {
	Msg  packet.Message
	Data []byte
}

// fakeTransport records the packets a socket emits instead of framing them
// onto a carrier.
type fakeTransport struct {
	serial string
	state  transport.State
	max    int
	sent   []sentPacket
}

func (f *fakeTransport) ID() string                        { return f.serial }
func (f *fakeTransport) Serial() string                    { return f.serial }
func (f *fakeTransport) Kind() transport.Kind              { return transport.KindLocal }
func (f *fakeTransport) ConnectionState() transport.State  { return f.state }
func (f *fakeTransport) MaxPayload() int                   { return f.max }
func (f *fakeTransport) SendPacket(p *packet.Packet) error {
	f.sent = append(f.sent, sentPacket{Msg: p.Msg, Data: append([]byte(nil), p.Data...)})
	packet.Put(p)
	return nil
}

func newFakeTransport(serial string) *fakeTransport {
	return &fakeTransport{serial: serial, state: transport.StateOnline, max: packet.MaxPayload}
}

func newTestRegistry(t *testing.T, env *Env) *Registry {
	t.Helper()
	loop, err := fdevent.NewLoop()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = loop.Close()
	})
	if env == nil {
		env = &Env{Role: RoleHost, Transports: transport.NewRegistry()}
	}
	if env.Transports == nil {
		env.Transports = transport.NewRegistry()
	}
	return NewRegistry(loop, env)
}

func testSocketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

// readAvailable drains whatever fd has buffered, waiting briefly for the
// first byte.
func readAvailable(t *testing.T, fd int) []byte {
	t.Helper()
	require.NoError(t, unix.SetNonblock(fd, true))
	var out []byte
	deadline := time.Now().Add(time.Second)
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			continue
		}
		if err == unix.EAGAIN {
			if len(out) > 0 || time.Now().After(deadline) {
				return out
			}
			time.Sleep(time.Millisecond)
			continue
		}
		return out
	}
}

// fillSendBuffer writes junk into fd until the kernel pushes back, so the
// next write hits EAGAIN.
func fillSendBuffer(t *testing.T, fd int) int {
	t.Helper()
	require.NoError(t, unix.SetNonblock(fd, true))
	junk := make([]byte, 4096)
	total := 0
	for {
		n, err := unix.Write(fd, junk)
		if n > 0 {
			total += n
			continue
		}
		require.Equal(t, unix.EAGAIN, err)
		return total
	}
}

func newPacket(data string) *packet.Packet {
	p := packet.New(packet.MaxPayloadV1 + 8)
	p.Data = append(p.Data, data...)
	return p
}

// pairLocals creates two installed local sockets over socketpairs, paired
// with each other and reading. Returns the sockets plus the test-side fds.
func pairLocals(t *testing.T, r *Registry) (a, b *LocalSocket, aPeer, bPeer int) {
	t.Helper()
	aFD, ap := testSocketPair(t)
	bFD, bp := testSocketPair(t)
	var err error
	a, err = r.CreateLocal(aFD)
	require.NoError(t, err)
	b, err = r.CreateLocal(bFD)
	require.NoError(t, err)
	a.SetPeer(b)
	b.SetPeer(a)
	a.Ready()
	b.Ready()
	return a, b, ap, bp
}
