package auth

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
)

const (
	RoleUser    = "USER"
	RoleSupport = "SUPPORT"
	RoleOwner   = "OWNER"
)

type AccessClaims struct {
	UserID    int64
	Role      string
	ExpiresAt time.Time
}
