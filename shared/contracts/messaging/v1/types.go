// Package v1 defines the communicator HTTP sync contract, version 1.
//
// It is shared between the server and clients to keep the wire format authoritative.
// Field names are camelCase because browser clients already speak this shape.
package v1

import "time"

// SendMessageRequest is the body of POST /messages.
// ClientMessageID makes the request safe to retry.
type SendMessageRequest struct {
	SenderID        string `json:"senderId"`
	RecipientID     string `json:"recipientId"`
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId"`
}

// MessageDTO is a stored message as returned by every message endpoint.
type MessageDTO struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"senderId"`
	SenderUsername string    `json:"senderUsername"`
	RecipientID    string    `json:"recipientId"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
}

// RegisterRequest is the body of POST /users/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /users/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse identifies the registered or logged-in user.
type AuthResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UserDTO is one entry of GET /users.
type UserDTO struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// APIError is the error payload.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps APIError: {"error":{"code":"...","message":"..."}}.
type ErrorResponse struct {
	Error APIError `json:"error"`
}
