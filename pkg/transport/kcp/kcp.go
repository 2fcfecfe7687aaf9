package kcp

import (
	"context"

	"github.com/uole/dbridge/pkg/transport"
	kcp "github.com/xtaci/kcp-go"
)

type (
	Option func(o *Options)

	Options struct {
		Key []byte
	}

	Listener struct {
		l *kcp.Listener
	}
)

func WithKey(key []byte) Option {
	return func(o *Options) {
		o.Key = key
	}
}

func (o *Options) block() (kcp.BlockCrypt, error) {
	if len(o.Key) == 0 {
		return kcp.NewNoneBlockCrypt(nil)
	}
	return kcp.NewSimpleXORBlockCrypt(o.Key)
}

func (l *Listener) Accept(ctx context.Context) (transport.Carrier, error) {
	conn, err := l.l.AcceptKCP()
	if err != nil {
		return nil, err
	}
	return transport.NewStreamCarrier(conn, conn.RemoteAddr()), nil
}

func (l *Listener) Close() (err error) {
	return l.l.Close()
}

func Listen(addr string, cbs ...Option) (transport.Listener, error) {
	var (
		err    error
		block  kcp.BlockCrypt
		listen *kcp.Listener
	)
	opts := &Options{}
	for _, cb := range cbs {
		cb(opts)
	}
	if block, err = opts.block(); err != nil {
		return nil, err
	}
	if listen, err = kcp.ListenWithOptions(addr, block, 10, 3); err != nil {
		return nil, err
	}
	return &Listener{l: listen}, nil
}

func Dial(ctx context.Context, addr string, cbs ...Option) (transport.Carrier, error) {
	var (
		err   error
		block kcp.BlockCrypt
		conn  *kcp.UDPSession
	)
	opts := &Options{}
	for _, cb := range cbs {
		cb(opts)
	}
	if block, err = opts.block(); err != nil {
		return nil, err
	}
	if conn, err = kcp.DialWithOptions(addr, block, 10, 3); err != nil {
		return nil, err
	}
	return transport.NewStreamCarrier(conn, conn.RemoteAddr()), nil
}
