package socket

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uole/dbridge/pkg/packet"
)

func TestRemoteEnqueueFramesWrite(t *testing.T) {
	r := newTestRegistry(t, nil)
	ft := newFakeTransport("dev")
	fd, _ := testSocketPair(t)
	s, err := r.CreateLocal(fd)
	require.NoError(t, err)
	rs := NewRemoteSocket(42, ft)
	rs.SetPeer(s)
	s.SetPeer(rs)

	require.Equal(t, EnqueueNotReady, rs.Enqueue(newPacket("payload")))
	require.Len(t, ft.sent, 1)
	sent := ft.sent[0]
	require.Equal(t, packet.CmdWrite, sent.Msg.Command)
	require.Equal(t, s.ID(), sent.Msg.Arg0)
	require.Equal(t, uint32(42), sent.Msg.Arg1)
	require.Equal(t, "payload", string(sent.Data))
}

func TestRemoteReadyEmitsOkay(t *testing.T) {
	r := newTestRegistry(t, nil)
	ft := newFakeTransport("dev")
	fd, _ := testSocketPair(t)
	s, _ := r.CreateLocal(fd)
	rs := NewRemoteSocket(42, ft)
	rs.SetPeer(s)
	s.SetPeer(rs)

	rs.Ready()
	require.Len(t, ft.sent, 1)
	require.Equal(t, packet.CmdOkay, ft.sent[0].Msg.Command)
	require.Equal(t, s.ID(), ft.sent[0].Msg.Arg0)
	require.Equal(t, uint32(42), ft.sent[0].Msg.Arg1)
}

func TestRemoteShutdownCarriesIDs(t *testing.T) {
	ft := newFakeTransport("dev")
	rs := NewRemoteSocket(7, ft)

	// Detached: the destination slot is zero.
	rs.Shutdown()
	require.Equal(t, packet.CmdClose, ft.sent[0].Msg.Command)
	require.Zero(t, ft.sent[0].Msg.Arg0)
	require.Equal(t, uint32(7), ft.sent[0].Msg.Arg1)
}

func TestLocalCloseShutsDownBeforeUnlink(t *testing.T) {
	r := newTestRegistry(t, nil)
	ft := newFakeTransport("dev")
	fd, _ := testSocketPair(t)
	s, _ := r.CreateLocal(fd)
	id := s.ID()
	rs := NewRemoteSocket(9, ft)
	rs.SetPeer(s)
	s.SetPeer(rs)

	s.Close()
	// The CLSE went out while the pairing was still intact, so it names
	// the local socket that is going away.
	require.Len(t, ft.sent, 1)
	require.Equal(t, packet.CmdClose, ft.sent[0].Msg.Command)
	require.Equal(t, id, ft.sent[0].Msg.Arg0)
	require.Equal(t, uint32(9), ft.sent[0].Msg.Arg1)
	require.Empty(t, r.Snapshot())
}

func TestRemoteIDZeroPanics(t *testing.T) {
	require.Panics(t, func() {
		NewRemoteSocket(0, newFakeTransport("dev"))
	})
}

func TestConnectToRemoteOversizedPanics(t *testing.T) {
	r := newTestRegistry(t, nil)
	ft := newFakeTransport("dev")
	ft.max = 64
	fd, _ := testSocketPair(t)
	s, _ := r.CreateLocal(fd)
	s.SetTransport(ft)

	require.Panics(t, func() {
		ConnectToRemote(s, string(make([]byte, 64)))
	})
}
