package authapi

import (
	"net"
	"net/http"
	"strings"

	"communicator/cmd/identity"
	v1 "communicator/shared/contracts/messaging/v1"
)

func toAuthResponse(u identity.User) v1.AuthResponse {
	return v1.AuthResponse{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
	}
}

func toUserDTOs(users []identity.User) []v1.UserDTO {
	out := make([]v1.UserDTO, 0, len(users))
	for _, u := range users {
		out = append(out, v1.UserDTO{ID: u.ID, Username: u.Username})
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
