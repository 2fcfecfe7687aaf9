package socket

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uole/dbridge/pkg/fdevent"
	"golang.org/x/sys/unix"
)

func TestPairForwardsBytes(t *testing.T) {
	r := newTestRegistry(t, nil)
	a, b, aPeer, bPeer := pairLocals(t, r)

	_, err := unix.Write(aPeer, []byte("hello"))
	require.NoError(t, err)
	a.onEvent(a.fd, fdevent.Read)

	require.Equal(t, "hello", string(readAvailable(t, bPeer)))
	require.Nil(t, a.pktFirst)
	require.Nil(t, b.pktFirst)
	require.Zero(t, a.fde.State()&fdevent.Write)
	require.Zero(t, b.fde.State()&fdevent.Write)
	require.NotZero(t, a.fde.State()&fdevent.Read)
}

func TestEOFTearsDownPair(t *testing.T) {
	r := newTestRegistry(t, nil)
	a, _, aPeer, _ := pairLocals(t, r)

	require.NoError(t, unix.Close(aPeer))
	a.onEvent(a.fd, fdevent.Read)

	require.Empty(t, r.Snapshot())
}

func TestBackpressure(t *testing.T) {
	r := newTestRegistry(t, nil)
	a, b, aPeer, bPeer := pairLocals(t, r)

	filler := fillSendBuffer(t, b.fd)
	_, err := unix.Write(aPeer, []byte("ABCDEFGHIJ"))
	require.NoError(t, err)
	a.onEvent(a.fd, fdevent.Read)

	// The peer could not take the bytes: backlog armed, reads paused.
	require.NotNil(t, b.pktFirst)
	require.NotZero(t, b.fde.State()&fdevent.Write)
	require.Zero(t, a.fde.State()&fdevent.Read)

	// Drain the kernel buffer, then let b flush its backlog.
	drained := readAvailable(t, bPeer)
	require.GreaterOrEqual(t, len(drained), filler)
	b.onEvent(b.fd, fdevent.Write)

	require.Nil(t, b.pktFirst)
	require.Zero(t, b.fde.State()&fdevent.Write)
	require.NotZero(t, a.fde.State()&fdevent.Read)

	tail := append(drained[filler:], readAvailable(t, bPeer)...)
	require.Equal(t, "ABCDEFGHIJ", string(tail))
}

func TestOrderingAcrossEnqueues(t *testing.T) {
	r := newTestRegistry(t, nil)
	_, b, _, bPeer := pairLocals(t, r)

	fillSendBuffer(t, b.fd)
	require.Equal(t, EnqueueNotReady, b.Enqueue(newPacket("one ")))
	require.Equal(t, EnqueueNotReady, b.Enqueue(newPacket("two ")))
	require.Equal(t, EnqueueNotReady, b.Enqueue(newPacket("three")))

	drained := readAvailable(t, bPeer)
	b.onEvent(b.fd, fdevent.Write)
	out := append(drained, readAvailable(t, bPeer)...)
	require.Equal(t, "one two three", string(out[len(out)-13:]))
}

func TestCloseWithBacklogDefersDestroy(t *testing.T) {
	r := newTestRegistry(t, nil)
	a, b, _, bPeer := pairLocals(t, r)

	fillSendBuffer(t, b.fd)
	require.Equal(t, EnqueueNotReady, b.Enqueue(newPacket("pending")))
	b.Close()

	// a was closed through the pairing; b drains on the closing list.
	require.True(t, b.closing)
	require.Nil(t, b.peer)
	require.NotZero(t, b.fde.State()&fdevent.Write)
	require.Zero(t, b.fde.State()&fdevent.Read)
	rows := r.Snapshot()
	require.Len(t, rows, 1)
	require.True(t, rows[0].Closing)
	_ = a

	readAvailable(t, bPeer)
	b.onEvent(b.fd, fdevent.Write)
	require.Empty(t, r.Snapshot())
}

func TestWriteErrorDestroysImmediately(t *testing.T) {
	r := newTestRegistry(t, nil)
	_, b, _, bPeer := pairLocals(t, r)

	require.NoError(t, unix.Close(bPeer))
	// The far end is gone; the opportunistic write fails hard.
	require.Equal(t, EnqueueNotReady, b.Enqueue(newPacket("doomed")))
	require.Empty(t, r.Snapshot())
}

func TestCloseFromBothSides(t *testing.T) {
	r := newTestRegistry(t, nil)
	a, b, _, _ := pairLocals(t, r)

	a.Close()
	require.Empty(t, r.Snapshot())
	require.Nil(t, a.peer)
	require.Nil(t, b.peer)
	// A second close from the other side must find nothing left to do.
	require.NotPanics(t, func() {
		b.Close()
		require.Empty(t, r.Snapshot())
	})
}

func TestForceEOFClosesAtQuiescence(t *testing.T) {
	r := newTestRegistry(t, nil)
	a, _, aPeer, bPeer := pairLocals(t, r)

	a.fde.SetForceEOF(true)
	_, err := unix.Write(aPeer, []byte("last"))
	require.NoError(t, err)
	a.onEvent(a.fd, fdevent.Read)

	// The final bytes were delivered, then the pair tore down.
	require.Equal(t, "last", string(readAvailable(t, bPeer)))
	require.Empty(t, r.Snapshot())
}

func TestExitOnCloseRoutesThroughSink(t *testing.T) {
	exited := -1
	saved := osExit
	osExit = func(code int) { exited = code }
	defer func() { osExit = saved }()

	r := newTestRegistry(t, nil)
	fd, _ := testSocketPair(t)
	s, err := r.CreateLocal(fd)
	require.NoError(t, err)
	s.exitOnClose = true
	s.Close()
	require.Equal(t, 1, exited)
}
