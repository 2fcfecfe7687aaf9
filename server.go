package dbridge

import (
	"context"
	"fmt"
	"time"

	"git.nspix.com/golang/kos/pkg/log"
	"git.nspix.com/golang/kos/util/env"
	retry "github.com/avast/retry-go"
	"github.com/rs/xid"
	"github.com/sourcegraph/conc"
	"github.com/uole/dbridge/config"
	"github.com/uole/dbridge/internal/hostsvc"
	"github.com/uole/dbridge/internal/services"
	"github.com/uole/dbridge/internal/socket"
	"github.com/uole/dbridge/pkg/fdevent"
	"github.com/uole/dbridge/pkg/transport"
	"github.com/uole/dbridge/pkg/transport/kcp"
	"github.com/uole/dbridge/pkg/transport/quic"
	"github.com/uole/dbridge/pkg/transport/tcp"
	"github.com/uole/dbridge/version"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	ctx        context.Context
	cancelFunc context.CancelFunc
	Uptime     time.Time
	cfg        *config.Config
	info       *NodeInfo
	loop       *fdevent.Loop
	registry   *socket.Registry
	transports *transport.Registry
	handler    *hostsvc.Handler
	secretKey  []byte
	waitGroup  conc.WaitGroup
	listeners  []transport.Listener
}

func (svr *Server) role() socket.Role {
	if svr.cfg.Role == "device" {
		return socket.RoleDevice
	}
	return socket.RoleHost
}

func (svr *Server) initSecret() {
	raw := env.Get("DBRIDGE_SECRET", svr.cfg.SecretKey)
	if raw == "" {
		return
	}
	plain, err := config.DecodeSecret(raw)
	if err != nil {
		log.Warnf("ignoring carrier secret: %s", err.Error())
		return
	}
	svr.secretKey = []byte(plain)
}

// serveTransport hooks a transport into the demux and the transport
// table, then pumps its carrier until it dies; every socket on it is
// closed afterwards.
func (svr *Server) serveTransport(ctx context.Context, t *transport.Peer) (err error) {
	t.OnPacket(svr.onPacket)
	t.OnState(svr.onTransportState)
	err = t.Serve(ctx)
	svr.transports.Unregister(t)
	svr.loop.Run(func() {
		svr.registry.CloseAllFor(t)
	})
	return
}

func (svr *Server) onTransportState(t *transport.Peer, state transport.State) {
	if state == transport.StateOnline {
		svr.transports.Register(t)
	}
}

func (svr *Server) carrierListener(ep config.Endpoint) (l transport.Listener, err error) {
	switch ep.Proto {
	case "kcp":
		l, err = kcp.Listen(ep.Address, kcp.WithKey(svr.secretKey))
	case "quic":
		l, err = quic.Listen(ep.Address)
	default:
		cbs := make([]tcp.Option, 0, 2)
		if len(svr.secretKey) > 0 {
			cbs = append(cbs, tcp.WithKey(svr.secretKey))
		}
		if svr.cfg.Compress {
			cbs = append(cbs, tcp.WithCompress())
		}
		l, err = tcp.Listen(ep.Address, cbs...)
	}
	return
}

func (svr *Server) dialCarrier(ctx context.Context, ep config.Endpoint) (c transport.Carrier, err error) {
	switch ep.Proto {
	case "kcp":
		c, err = kcp.Dial(ctx, ep.Address, kcp.WithKey(svr.secretKey))
	case "quic":
		c, err = quic.Dial(ctx, ep.Address)
	default:
		cbs := make([]tcp.Option, 0, 2)
		if len(svr.secretKey) > 0 {
			cbs = append(cbs, tcp.WithKey(svr.secretKey))
		}
		if svr.cfg.Compress {
			cbs = append(cbs, tcp.WithCompress())
		}
		c, err = tcp.Dial(ctx, ep.Address, cbs...)
	}
	return
}

// acceptCarriers turns every inbound carrier into a served transport.
func (svr *Server) acceptCarriers(l transport.Listener) {
	eg, ctx := errgroup.WithContext(svr.ctx)
	for {
		carrier, err := l.Accept(ctx)
		if err != nil {
			break
		}
		t := transport.New(carrier, "", transport.KindLocal)
		log.Infof("transport %s accepted from %s", t.ID(), carrier.RemoteAddr())
		eg.Go(func() error {
			return svr.serveTransport(ctx, t)
		})
	}
	_ = eg.Wait()
}

// connectPeer keeps one outbound carrier alive, redialing with backoff
// until the server stops.
func (svr *Server) connectPeer(ep config.Endpoint) {
	for svr.ctx.Err() == nil {
		err := retry.Do(func() error {
			carrier, err := svr.dialCarrier(svr.ctx, ep)
			if err != nil {
				return err
			}
			t := transport.New(carrier, ep.Address, transport.KindLocal)
			log.Infof("transport %s connected to %s", t.ID(), ep.Address)
			return svr.serveTransport(svr.ctx, t)
		},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.Context(svr.ctx),
		)
		if err != nil && svr.ctx.Err() == nil {
			log.Warnf("peer %s unreachable: %s", ep.Address, err.Error())
			time.Sleep(time.Second * 5)
		}
	}
}

// initialization builds the loop, registry and dispatch hooks; listeners
// come up afterwards in Start.
func (svr *Server) initialization() (err error) {
	svr.initSecret()
	if svr.loop, err = fdevent.NewLoop(); err != nil {
		return
	}
	svr.handler = hostsvc.New(svr.transports)
	envv := &socket.Env{
		Role:       svr.role(),
		Transports: svr.transports,
		ServiceToFD: func(name string, t transport.Transport) (int, error) {
			return services.Open(name, t)
		},
		HostService: func(name, serial string) (*socket.LocalSocket, error) {
			return svr.handler.ServiceSocket(svr.registry, name, serial)
		},
		HandleHostRequest: svr.handleHostRequest,
	}
	svr.registry = socket.NewRegistry(svr.loop, envv)
	svr.info = &NodeInfo{
		ID:      xid.New().String(),
		Role:    svr.cfg.Role,
		Serial:  svr.cfg.Serial,
		Version: version.Version,
		Uptime:  svr.Uptime,
	}
	return
}

func (svr *Server) Start(ctx context.Context) (err error) {
	svr.ctx, svr.cancelFunc = context.WithCancel(ctx)
	if err = svr.initialization(); err != nil {
		return
	}
	svr.waitGroup.Go(func() {
		if e := svr.loop.Serve(svr.ctx); e != nil && svr.ctx.Err() == nil {
			log.Warnf("event loop stopped: %s", e.Error())
		}
	})
	if addr := env.Get("DBRIDGE_LISTEN", svr.cfg.Listen); addr != "" {
		if err = svr.listenFrontDoor(addr); err != nil {
			return fmt.Errorf("front door %s: %w", addr, err)
		}
		log.Infof("front door listening on %s", addr)
	}
	for _, ep := range svr.cfg.Carriers {
		var l transport.Listener
		if l, err = svr.carrierListener(ep); err != nil {
			return fmt.Errorf("carrier %s %s: %w", ep.Proto, ep.Address, err)
		}
		svr.listeners = append(svr.listeners, l)
		listener := l
		svr.waitGroup.Go(func() {
			svr.acceptCarriers(listener)
		})
	}
	for _, ep := range svr.cfg.Peers {
		endpoint := ep
		svr.waitGroup.Go(func() {
			svr.connectPeer(endpoint)
		})
	}
	svr.routes()
	return
}

func (svr *Server) handleHostRequest(service string, kind transport.Kind, serial string, replyFD int, ss *socket.SmartSocket) int {
	return svr.handler.Handle(service, kind, serial, replyFD, ss)
}

func (svr *Server) Stop() (err error) {
	svr.cancelFunc()
	for _, l := range svr.listeners {
		_ = l.Close()
	}
	for _, t := range svr.transports.List() {
		_ = t.Close()
	}
	_ = svr.loop.Close()
	svr.waitGroup.Wait()
	return
}

func New(cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.New()
	}
	return &Server{
		cfg:        cfg,
		Uptime:     time.Now(),
		transports: transport.NewRegistry(),
	}
}
