// Package device provides the push token registry: registration, listing and
// pruning of device tokens.
package device

import (
	"errors"
	"strings"
	"time"
)

// Registry errors.
var (
	ErrUserIDRequired = errors.New("user_id is required")
	ErrTokenRequired  = errors.New("fcm_token is required")
	ErrTokenNotFound  = errors.New("token not found")
)

// Platform is the client platform a token was issued for.
// Values outside the known set are stored as given.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
	PlatformUnknown Platform = "unknown"
)

// NormalizePlatform lowercases known platform names and maps an empty value to PlatformUnknown.
func NormalizePlatform(raw string) Platform {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PlatformUnknown
	}
	switch p := Platform(strings.ToLower(trimmed)); p {
	case PlatformIOS, PlatformAndroid, PlatformWeb, PlatformUnknown:
		return p
	}
	return Platform(trimmed)
}

// DeviceToken is a registered push token. Token is the natural key.
type DeviceToken struct {
	Token     string
	UserID    string
	Platform  Platform
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenLast4 returns the last 4 characters of the token for logging.
func (d *DeviceToken) TokenLast4() string {
	return Last4(d.Token)
}

// Last4 returns the last 4 characters of a token.
func Last4(token string) string {
	if len(token) < 4 {
		return token
	}
	return token[len(token)-4:]
}
