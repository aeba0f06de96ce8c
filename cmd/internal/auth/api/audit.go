package authapi

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// Audit events are structured log records under the "audit" group. Failed
// logins record the reason; the submitted password never appears.

func (h *Handler) auditLoginFailed(ctx context.Context, userID string, ip net.IP, ua, email, reason string) {
	h.audit(ctx, slog.LevelWarn, "auth.login.failed", userID, "", ip, ua,
		slog.String("email", email),
		slog.String("reason", reason),
	)
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID, sessionID string, ip net.IP, ua, platform string) {
	h.audit(ctx, slog.LevelInfo, "auth.login.success", userID, sessionID, ip, ua,
		slog.String("platform", platform),
	)
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip net.IP, ua, email string, retryAfter time.Duration) {
	h.audit(ctx, slog.LevelWarn, "auth.login.rate_limited", "", "", ip, ua,
		slog.String("email", email),
		slog.Int64("retry_after_s", int64(retryAfter.Seconds())),
	)
}

func (h *Handler) auditLogout(ctx context.Context, userID, sessionID string, ip net.IP, ua string) {
	h.audit(ctx, slog.LevelInfo, "auth.logout", userID, sessionID, ip, ua)
}

func (h *Handler) audit(ctx context.Context, level slog.Level, action, userID, sessionID string, ip net.IP, ua string, extra ...slog.Attr) {
	if h == nil || h.log == nil {
		return
	}
	attrs := make([]any, 0, 5+len(extra))
	if userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	if sessionID != "" {
		attrs = append(attrs, slog.String("session_id", sessionID))
	}
	if ip != nil {
		attrs = append(attrs, slog.String("ip", ip.String()))
	}
	if ua != "" {
		attrs = append(attrs, slog.String("ua", ua))
	}
	for _, a := range extra {
		attrs = append(attrs, a)
	}
	h.log.Log(ctx, level, action, slog.Group("audit", attrs...))
}
