package cipherstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"git.nspix.com/golang/kos/util/pool"
	"github.com/golang/snappy"
)

const (
	flagEncrypted = 0x40
	flagCompress  = 0x80
	flagOffset    = 0x3f

	recordVer         = 0xD7
	recordHeadLength  = 6
	minCompressLength = 512
)

type (
	// Conn wraps a byte stream in length-delimited records with optional
	// snappy compression and keystream obfuscation. It fronts the TCP
	// packet carrier; without a key, payloads go out unmasked.
	// The low bits of each record's flag byte carry the keystream window
	// offset that masked its payload.
	Conn struct {
		opts      *Options
		rw        io.ReadWriter
		buf       *bytes.Buffer
		closeFlag int32
	}

	Option func(o *Options)

	Options struct {
		Compress bool
		cipher   *keystream
	}
)

func (conn *Conn) tryRead() (err error) {
	var (
		n    int
		flag uint8
		head []byte
		src  []byte
		dst  []byte
		p    []byte
	)
	head = pool.GetBytes(recordHeadLength)
	defer pool.PutBytes(head)
	if _, err = io.ReadFull(conn.rw, head); err != nil {
		return
	}
	if head[0] != recordVer {
		err = fmt.Errorf("invalid record version 0x%02X", head[0])
		return
	}
	flag = head[1]
	src = pool.GetBytes(int(binary.BigEndian.Uint32(head[2:])))
	defer pool.PutBytes(src)
	if _, err = io.ReadFull(conn.rw, src); err != nil {
		return
	}
	if flag&flagEncrypted != 0 {
		if conn.opts.cipher == nil {
			return errors.New("encrypted record without a key")
		}
		conn.opts.cipher.apply(src, flag&flagOffset)
	}
	if flag&flagCompress != 0 {
		if n, err = snappy.DecodedLen(src); err != nil {
			return
		}
		dst = pool.GetBytes(n)
		defer pool.PutBytes(dst)
		if p, err = snappy.Decode(dst, src); err != nil {
			return
		}
	} else {
		p = src
	}
	conn.buf.Write(p)
	return
}

func (conn *Conn) Read(b []byte) (n int, err error) {
	if conn.buf.Len() == 0 {
		if err = conn.tryRead(); err != nil {
			return
		}
	}
	if n, err = conn.buf.Read(b); err != nil {
		if errors.Is(err, io.EOF) {
			err = nil
		}
	}
	return
}

func (conn *Conn) Write(b []byte) (n int, err error) {
	var (
		flag uint8
		p    []byte
		nw   int64
		ntw  int
	)
	length := len(b)
	if length <= 0 {
		return
	}
	w := pool.GetBuffer()
	defer pool.PutBuffer(w)
	if err = w.WriteByte(recordVer); err != nil {
		return
	}
	if conn.opts.Compress && length > minCompressLength {
		flag |= flagCompress
		buf := pool.GetBytes(snappy.MaxEncodedLen(length))
		defer pool.PutBytes(buf)
		p = snappy.Encode(buf, b)
	} else {
		p = b
	}
	if conn.opts.cipher != nil {
		flag |= flagEncrypted
		offset := uint8(rand.Int31n(flagOffset + 1))
		flag |= offset
		conn.opts.cipher.apply(p, offset)
	} else {
		flag |= uint8(rand.Int31n(flagOffset + 1))
	}
	if err = w.WriteByte(flag); err != nil {
		return
	}
	if err = binary.Write(w, binary.BigEndian, uint32(len(p))); err != nil {
		return
	}
	if ntw, err = w.Write(p); err != nil {
		return
	}
	if nw, err = w.WriteTo(conn.rw); err == nil {
		if nw != int64(ntw)+recordHeadLength {
			err = io.ErrShortWrite
		}
		n = length
	}
	return
}

func (conn *Conn) Close() (err error) {
	if !atomic.CompareAndSwapInt32(&conn.closeFlag, 0, 1) {
		return
	}
	if c, ok := conn.rw.(io.Closer); ok {
		err = c.Close()
	}
	return
}

func (conn *Conn) LocalAddr() net.Addr {
	if c, ok := conn.rw.(net.Conn); ok {
		return c.LocalAddr()
	}
	return nil
}

func (conn *Conn) RemoteAddr() net.Addr {
	if c, ok := conn.rw.(net.Conn); ok {
		return c.RemoteAddr()
	}
	return nil
}

func (conn *Conn) SetDeadline(t time.Time) error {
	if c, ok := conn.rw.(net.Conn); ok {
		return c.SetDeadline(t)
	}
	return nil
}

func WithCompress() Option {
	return func(o *Options) {
		o.Compress = true
	}
}

func WithCipher(key []byte) Option {
	return func(o *Options) {
		if len(key) > 0 {
			o.cipher = newKeystream(key)
		}
	}
}

func New(rw io.ReadWriter, cbs ...Option) *Conn {
	opts := &Options{}
	for _, cb := range cbs {
		cb(opts)
	}
	conn := &Conn{
		rw:   rw,
		opts: opts,
		buf:  bytes.NewBuffer(nil),
	}
	return conn
}
