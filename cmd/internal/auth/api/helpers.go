package authapi

import (
	"net"
	"net/http"
	"strings"

	"spendsync/cmd/identity"
	"spendsync/cmd/internal/auth/session"
)

func toUserResponse(u identity.User) userResponse {
	out := userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role.String(),
		AvatarRef:   u.AvatarRef,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
	if u.LastClient != nil {
		out.LastClient = &clientResponse{Platform: u.LastClient.Platform, Device: u.LastClient.Device}
	}
	return out
}

func toSessionLogResponse(e session.LogEntry) sessionLogResponse {
	out := sessionLogResponse{
		SessionID: e.SessionID,
		Platform:  e.Client.Platform,
		Device:    e.Client.Device,
		LoginAt:   e.LoginAt,
		LogoutAt:  e.LogoutAt,
	}
	if e.EndReason != nil {
		r := string(*e.EndReason)
		out.EndReason = &r
	}
	return out
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
