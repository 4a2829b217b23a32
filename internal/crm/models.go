// Package crm talks to the CRM chat backend: the inbound message feed and the
// bot directory used to enrich notifications.
package crm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnexpectedPayload is returned when an endpoint does not answer with a JSON array.
var ErrUnexpectedPayload = errors.New("unexpected payload")

// ID is a numeric identifier that the backend may encode either as a JSON
// number or as a numeric string. JSON null decodes to zero.
type ID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	v, err := ParseID(raw)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// MarshalJSON encodes the ID as a JSON number.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(id), 10)), nil
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseID parses an integral decimal value such as "42", "42.0" or "4.2e1".
func ParseID(s string) (ID, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ID(v), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) ||
		f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return ID(f), nil
}

// Text is a string field the backend may send as a string, a number or null.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", b)
		}
		*t = Text(n.String())
	}
	return nil
}

// Message is one inbound chat message from the feed.
type Message struct {
	ID        ID     `json:"id"`
	BotID     ID     `json:"bot_id"`
	ChatID    Text   `json:"chat_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Text      string `json:"message"`

	// Set by enrichment; empty when the bot is unknown.
	BotName  string `json:"-"`
	BotToken string `json:"-"`
}

// UnmarshalJSON accepts numbers and nulls in the display fields.
func (m *Message) UnmarshalJSON(b []byte) error {
	var wire struct {
		ID        ID   `json:"id"`
		BotID     ID   `json:"bot_id"`
		ChatID    Text `json:"chat_id"`
		FirstName Text `json:"first_name"`
		LastName  Text `json:"last_name"`
		Username  Text `json:"username"`
		Text      Text `json:"message"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	*m = Message{
		ID:        wire.ID,
		BotID:     wire.BotID,
		ChatID:    wire.ChatID,
		FirstName: string(wire.FirstName),
		LastName:  string(wire.LastName),
		Username:  string(wire.Username),
		Text:      string(wire.Text),
	}
	return nil
}

// Enrich returns a copy of m carrying the bot metadata.
func (m Message) Enrich(info BotInfo) Message {
	m.BotName = info.Name
	m.BotToken = info.TokenID
	return m
}

// Bot is an entry of the bot directory. The ID is kept in its raw form
// because the directory is not guaranteed to use numeric ids.
type Bot struct {
	ID      Text `json:"id"`
	Name    Text `json:"name"`
	TokenID Text `json:"token_id"`
}

// Matches reports whether the bot's id equals id, comparing numerically when
// the raw id is numeric and as strings otherwise.
func (b Bot) Matches(id ID) bool {
	raw := strings.TrimSpace(string(b.ID))
	if v, err := ParseID(raw); err == nil {
		return v == id
	}
	return raw == id.String()
}

// BotInfo is the metadata attached to a message.
type BotInfo struct {
	Name    string
	TokenID string
}
