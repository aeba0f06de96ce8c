package authapi

import "time"

type clientRequest struct {
	Platform string `json:"platform"`
	Device   string `json:"device"`
}

type loginRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Role     string         `json:"role"`
	Client   *clientRequest `json:"client,omitempty"`
}

type clientResponse struct {
	Platform string `json:"platform"`
	Device   string `json:"device,omitempty"`
}

type userResponse struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	DisplayName string          `json:"display_name"`
	Role        string          `json:"role"`
	AvatarRef   *string         `json:"avatar_ref"`
	LastLoginAt *time.Time      `json:"last_login_at"`
	LastClient  *clientResponse `json:"last_client"`
	CreatedAt   time.Time       `json:"created_at"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	ExpiresAt time.Time    `json:"expires_at"`
	UserID    string       `json:"user_id"`
	Role      string       `json:"role"`
	SessionID string       `json:"session_id"`
	User      userResponse `json:"user"`
}

type sessionLogResponse struct {
	SessionID string     `json:"session_id"`
	Platform  string     `json:"platform"`
	Device    string     `json:"device,omitempty"`
	LoginAt   time.Time  `json:"login_at"`
	LogoutAt  *time.Time `json:"logout_at"`
	EndReason *string    `json:"end_reason"`
}

type meResponse struct {
	User      userResponse         `json:"user"`
	SessionID string               `json:"session_id"`
	ExpiresAt time.Time            `json:"expires_at"`
	Logins    []sessionLogResponse `json:"logins,omitempty"`
}

type usersResponse struct {
	Users []userResponse `json:"users"`
}
