package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/uole/dbridge/pkg/packet"
	"github.com/uole/dbridge/pkg/transport"
)

const alpnProto = "dbridge/1"

func init() {
	os.Setenv("QUIC_GO_DISABLE_RECEIVE_BUFFER_WARNING", "true")
	os.Setenv("QUIC_GO_LOG_LEVEL", "error")
}

type (
	// carrier frames packets over one bidirectional stream so ordering
	// matches the other carriers; closing tears down the whole connection.
	carrier struct {
		conn   quic.Connection
		stream quic.Stream
	}

	Listener struct {
		l quic.Listener
	}
)

func (c *carrier) ReadPacket(maxPayload int) (*packet.Packet, error) {
	return packet.ReadPacket(c.stream, maxPayload)
}

func (c *carrier) WritePacket(p *packet.Packet) error {
	return packet.WritePacket(c.stream, p)
}

func (c *carrier) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *carrier) Close() error {
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, io.ErrClosedPipe.Error())
}

func (l *Listener) Accept(ctx context.Context) (transport.Carrier, error) {
	conn, err := l.l.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, err.Error())
		return nil, err
	}
	return &carrier{conn: conn, stream: stream}, nil
}

func (l *Listener) Close() error {
	return l.l.Close()
}

func config() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        time.Second * 80,
		MaxIncomingStreams:    64,
		MaxIncomingUniStreams: 64,
	}
}

func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour * 24 * 365),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProto},
	}, nil
}

func Listen(addr string) (transport.Listener, error) {
	tlsCfg, err := generateTLSConfig()
	if err != nil {
		return nil, err
	}
	l, err := quic.ListenAddr(addr, tlsCfg, config())
	if err != nil {
		return nil, err
	}
	return &Listener{l: l}, nil
}

func Dial(ctx context.Context, addr string) (transport.Carrier, error) {
	conn, err := quic.DialAddrContext(ctx, addr, &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProto},
	}, config())
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, err.Error())
		return nil, err
	}
	return &carrier{conn: conn, stream: stream}, nil
}
