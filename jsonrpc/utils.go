package jsonrpc

import (
	"net"
	"net/http"
	"strings"
)

const (
	MethodChainGetHead            = "chain.gethead"
	MethodChainGetLIB             = "chain.getlib"
	MethodChainGetBlockByNumber   = "chain.getblockbynumber"
	MethodChainGetBlockByID       = "chain.getblockbyid"
	MethodChainGetState           = "chain.getstate"
	MethodChainSubmitBlock        = "chain.submitblock"
	MethodChainSubmitConfirmation = "chain.submitconfirmation"
)

func extractClientIPFromRequest(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	return "unknown"
}

func splitAndTrim(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
