package httpserver

import (
	"net/http"

	"github.com/tokligence/walletchat/internal/httpserver/protocol"
)

type walletEndpoint struct {
	server *Server
}

func newWalletEndpoint(server *Server) protocol.Endpoint {
	return &walletEndpoint{server: server}
}

func (e *walletEndpoint) Name() string { return "wallet_chat" }

func (e *walletEndpoint) Routes() []protocol.EndpointRoute {
	s := e.server
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/api/chat", Handler: s.instrument("chat", s.limited(http.HandlerFunc(s.HandleChat)))},
		{Method: http.MethodPost, Path: "/api/suggestions", Handler: s.instrument("suggestions", s.limited(compressed(http.HandlerFunc(s.HandleSuggestions))))},
		{Method: http.MethodPost, Path: "/api/action", Handler: s.instrument("action", s.limited(compressed(http.HandlerFunc(s.HandleAction))))},
	}
}
