package auth

import (
	"net"
	"net/http"
	"strings"
)

// BearerToken extracts the credential from an "Authorization: Bearer"
// header. It returns "" when the header is absent or malformed.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// HandshakeToken extracts the credential from a WebSocket upgrade request.
// Browsers cannot set headers on the upgrade, so the "token" query
// parameter is accepted alongside the Authorization header.
func HandshakeToken(r *http.Request) string {
	if t := BearerToken(r); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

// ClientOrigin returns the network origin used for failure accounting.
// X-Forwarded-For is honored only behind a trusted proxy.
func ClientOrigin(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
