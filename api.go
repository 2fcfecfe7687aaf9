package dbridge

import (
	"git.nspix.com/golang/kos"
	"git.nspix.com/golang/kos/entry/http"
	"github.com/uole/dbridge/internal/socket"
)

func (svr *Server) handleNodeInfo(ctx *http.Context) (err error) {
	return ctx.Success(svr.info)
}

func (svr *Server) handleListTransports(ctx *http.Context) (err error) {
	ts := svr.transports.List()
	rows := make([]TransportInfo, 0, len(ts))
	for _, t := range ts {
		rows = append(rows, TransportInfo{
			ID:     t.ID(),
			Serial: t.Serial(),
			Kind:   t.Kind().String(),
			State:  t.ConnectionState().String(),
		})
	}
	return ctx.Success(rows)
}

func (svr *Server) handleListSockets(ctx *http.Context) (err error) {
	ch := make(chan []socket.SocketInfo, 1)
	svr.loop.Run(func() {
		ch <- svr.registry.Snapshot()
	})
	return ctx.Success(<-ch)
}

func (svr *Server) routes() {
	kos.Http().Group("/api/v1", []http.Route{
		{http.MethodGet, "/info", svr.handleNodeInfo},
		{http.MethodGet, "/transports", svr.handleListTransports},
		{http.MethodGet, "/sockets", svr.handleListSockets},
	})
}
