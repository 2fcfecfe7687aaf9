package tcp

import (
	"context"
	"net"

	"github.com/uole/dbridge/pkg/cipherstream"
	"github.com/uole/dbridge/pkg/transport"
)

type (
	Option func(o *Options)

	Options struct {
		Key      []byte
		Compress bool
	}

	Listener struct {
		l    net.Listener
		opts *Options
	}
)

func WithKey(key []byte) Option {
	return func(o *Options) {
		o.Key = key
	}
}

func WithCompress() Option {
	return func(o *Options) {
		o.Compress = true
	}
}

func (o *Options) wrap(conn net.Conn) transport.Carrier {
	if o.Key == nil && !o.Compress {
		return transport.NewStreamCarrier(conn, conn.RemoteAddr())
	}
	cbs := make([]cipherstream.Option, 0, 2)
	if o.Key != nil {
		cbs = append(cbs, cipherstream.WithCipher(o.Key))
	}
	if o.Compress {
		cbs = append(cbs, cipherstream.WithCompress())
	}
	return transport.NewStreamCarrier(cipherstream.New(conn, cbs...), conn.RemoteAddr())
}

func (l *Listener) Accept(ctx context.Context) (transport.Carrier, error) {
	conn, err := l.l.Accept()
	if err != nil {
		return nil, err
	}
	return l.opts.wrap(conn), nil
}

func (l *Listener) Close() (err error) {
	return l.l.Close()
}

func Listen(addr string, cbs ...Option) (transport.Listener, error) {
	var (
		err    error
		listen net.Listener
	)
	opts := &Options{}
	for _, cb := range cbs {
		cb(opts)
	}
	if listen, err = net.Listen("tcp", addr); err != nil {
		return nil, err
	}
	return &Listener{l: listen, opts: opts}, nil
}

func Dial(ctx context.Context, addr string, cbs ...Option) (transport.Carrier, error) {
	var (
		err    error
		conn   net.Conn
		dialer net.Dialer
	)
	opts := &Options{}
	for _, cb := range cbs {
		cb(opts)
	}
	if conn, err = dialer.DialContext(ctx, "tcp", addr); err != nil {
		return nil, err
	}
	return opts.wrap(conn), nil
}
