package authapi

import (
	"net"
	"time"
)

// Only failed logins count against the per-IP budget, so a user who types
// the right password is never throttled by their own successful logins.

func (h *Handler) checkLoginIPThrottle(ip net.IP, now time.Time) (bool, time.Duration) {
	if ip == nil || h.loginIP == nil {
		return false, 0
	}
	ok, retryAfter := h.loginIP.Check(ip.String(), now)
	return !ok, retryAfter
}

func (h *Handler) recordLoginFailure(ip net.IP, now time.Time) {
	if ip == nil || h.loginIP == nil {
		return
	}
	h.loginIP.Allow(ip.String(), now)
}
