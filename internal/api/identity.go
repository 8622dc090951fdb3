package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/ignite/leadclean/internal/credit"
)

// accountIDHeader is populated by the upstream authentication proxy for
// signed-in users. Authentication itself is outside this service; an empty
// header means the caller is anonymous and is metered by network address.
const accountIDHeader = "X-Account-ID"

// resolveIdentity maps a request to its ledger identity: the authenticated
// account id when present, otherwise the caller's IP.
func resolveIdentity(r *http.Request) credit.Identity {
	if accountID := strings.TrimSpace(r.Header.Get(accountIDHeader)); accountID != "" {
		return credit.AccountIdentity(accountID)
	}
	return credit.IPIdentity(clientIP(r))
}

// clientIP extracts the caller's address, preferring proxy-set headers over
// the socket peer. IPv6 loopback is normalized to IPv4 so local development
// maps to a single ledger document.
func clientIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-IP")
	if ip == "" {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	if ip == "" {
		ip = r.Header.Get("CF-Connecting-IP")
	}
	if ip == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}
	if ip == "::1" || ip == "" {
		ip = "127.0.0.1"
	}
	return ip
}
