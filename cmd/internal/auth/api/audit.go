package authapi

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Audit events are structured log records under the "auth.audit" message.
// Identifiers are normalized emails; passwords never reach this file.

func (h *Handler) auditRegistered(ctx context.Context, userID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.register.success", userID, ip, ua)
}

func (h *Handler) auditRegisterRejected(ctx context.Context, ip net.IP, ua string, reason string) {
	h.audit(ctx, "auth.register.rejected", "", ip, ua, slog.String("reason", reason))
}

func (h *Handler) auditLoginFailed(ctx context.Context, userID string, ip net.IP, ua string, identifier string, reason string) {
	h.audit(ctx, "auth.login.failed", userID, ip, ua,
		slog.String("identifier", identifier),
		slog.String("reason", reason),
	)
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID string, ip net.IP, ua string, identifier string) {
	h.audit(ctx, "auth.login.success", userID, ip, ua, slog.String("identifier", identifier))
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip net.IP, ua string, identifier string, retryAfter time.Duration) {
	h.audit(ctx, "auth.login.rate_limited", "", ip, ua,
		slog.String("identifier", identifier),
		slog.Int64("retry_after_s", int64(retryAfter.Seconds())),
	)
}

func (h *Handler) auditLogout(ctx context.Context, ip net.IP, ua string) {
	h.audit(ctx, "auth.logout", "", ip, ua)
}

func (h *Handler) audit(ctx context.Context, action string, userID string, ip net.IP, ua string, extra ...slog.Attr) {
	if h == nil || h.log == nil {
		return
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	attrs := make([]slog.Attr, 0, 4+len(extra))
	attrs = append(attrs, slog.String("action", action))
	if userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	if ip != nil {
		attrs = append(attrs, slog.String("ip", ip.String()))
	}
	if ua = strings.TrimSpace(ua); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}
	attrs = append(attrs, extra...)

	h.log.LogAttrs(ctx, slog.LevelInfo, "auth.audit", attrs...)
}
