package fdevent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l, err := NewLoop()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Log("loop did not stop")
		}
		_ = l.Close()
	})
	return l, cancel
}

func testPipe(t *testing.T) (int, int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	return fds[0], fds[1]
}

func TestReadEventDelivery(t *testing.T) {
	l, _ := newTestLoop(t)
	r, w := testPipe(t)
	defer unix.Close(w)

	got := make(chan Events, 16)
	var fde *FDEvent
	install := make(chan struct{})
	l.Run(func() {
		var err error
		fde, err = l.Install(r, func(fd int, ev Events) {
			got <- ev
			buf := make([]byte, 16)
			_, _ = unix.Read(fd, buf)
		})
		require.NoError(t, err)
		fde.Add(Read)
		close(install)
	})
	<-install

	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)
	select {
	case ev := <-got:
		require.NotZero(t, ev&Read)
	case <-time.After(time.Second):
		t.Fatal("no read event")
	}
}

func TestInterestMaskGatesDelivery(t *testing.T) {
	l, _ := newTestLoop(t)
	r, w := testPipe(t)
	defer unix.Close(w)

	got := make(chan Events, 16)
	install := make(chan struct{})
	l.Run(func() {
		fde, err := l.Install(r, func(fd int, ev Events) {
			got <- ev
		})
		require.NoError(t, err)
		_ = fde // interest never enabled
		close(install)
	})
	<-install

	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)
	select {
	case ev := <-got:
		t.Fatalf("unexpected event %v with empty interest", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWriteInterestToggle(t *testing.T) {
	l, _ := newTestLoop(t)
	r, w := testPipe(t)
	defer unix.Close(r)

	got := make(chan Events, 16)
	install := make(chan struct{})
	l.Run(func() {
		fde, err := l.Install(w, func(fd int, ev Events) {
			got <- ev
			fde := l.lookup(fd)
			fde.Del(Write)
		})
		require.NoError(t, err)
		fde.Add(Write)
		close(install)
	})
	<-install

	// An empty pipe is immediately writable.
	select {
	case ev := <-got:
		require.NotZero(t, ev&Write)
	case <-time.After(time.Second):
		t.Fatal("no write event")
	}
	// Interest dropped inside the handler: no storm of further events.
	select {
	case ev := <-got:
		t.Fatalf("unexpected event %v after Del", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunPostsToLoop(t *testing.T) {
	l, _ := newTestLoop(t)
	done := make(chan struct{})
	l.Run(func() {
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted function never ran")
	}
}

func TestRemoveClosesFD(t *testing.T) {
	l, _ := newTestLoop(t)
	r, w := testPipe(t)
	defer unix.Close(w)

	removed := make(chan struct{})
	l.Run(func() {
		fde, err := l.Install(r, func(fd int, ev Events) {})
		require.NoError(t, err)
		fde.Remove()
		close(removed)
	})
	<-removed
	// The registration owned r; it must be gone now.
	err := unix.SetNonblock(r, true)
	require.Equal(t, unix.EBADF, err)
}

func TestForceEOFFlag(t *testing.T) {
	l, _ := newTestLoop(t)
	r, _ := testPipe(t)
	installed := make(chan *FDEvent, 1)
	l.Run(func() {
		fde, err := l.Install(r, func(fd int, ev Events) {})
		require.NoError(t, err)
		installed <- fde
	})
	fde := <-installed
	require.False(t, fde.ForceEOF())
	l.Run(func() { fde.SetForceEOF(true) })
	done := make(chan bool, 1)
	l.Run(func() { done <- fde.ForceEOF() })
	require.True(t, <-done)
}
