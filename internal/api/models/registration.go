package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RegisterTokenMessage is the success message returned by token registration.
const RegisterTokenMessage = "Token registered successfully"

// RegisterTokenRequest is the body of POST /api/v1/notifications/register-token.
type RegisterTokenRequest struct {
	UserID   LooseString `json:"user_id"`
	FCMToken string      `json:"fcm_token"`
	Platform string      `json:"platform"`
}

// RegisterTokenResponse is returned when a token was stored.
type RegisterTokenResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// LooseString accepts a JSON string or number. CRM user ids arrive as either.
type LooseString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *LooseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = LooseString(v)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*s = LooseString(strconv.FormatInt(i, 10))
		return nil
	}
	*s = LooseString(n.String())
	return nil
}
