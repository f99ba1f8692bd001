package httpserver

import (
	"net/http"

	"github.com/tokligence/walletchat/internal/httpserver/protocol"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: compressed(http.HandlerFunc(e.server.HandleHealth))},
		{Method: http.MethodGet, Path: "/health/ready", Handler: compressed(http.HandlerFunc(e.server.HandleReady))},
	}
}
