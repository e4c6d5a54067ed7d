package network

import (
	"context"
	"net"

	"google.golang.org/grpc/peer"
)

// remoteHost returns the caller's host without port or IPv6 brackets.
func remoteHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if addr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		if net.ParseIP(addr) != nil {
			return addr
		}
		// bufconn and unix sockets have no host:port form
		return addr
	}
	return host
}
