package dispatch

import (
	"fmt"
	"strings"

	"github.com/crmpush/crmpush/internal/crm"
	"github.com/crmpush/crmpush/internal/push"
)

const (
	maxBodyRunes = 120
	defaultBody  = "New Message"
	defaultTitle = "Bot"
)

// Data keys carried by every notification.
const (
	DataID       = "id"
	DataChatID   = "chatId"
	DataBotID    = "botId"
	DataName     = "name"
	DataUsername = "username"
	DataBotToken = "botToken"
)

// BuildPayload renders the notification for msg.
func BuildPayload(msg crm.Message) push.Payload {
	botName := msg.BotName
	if botName == "" {
		botName = defaultTitle
	}

	body := truncateRunes(msg.Text, maxBodyRunes)
	if body == "" {
		body = defaultBody
	}

	return push.Payload{
		Title: fmt.Sprintf("%s - %s %s", botName, msg.FirstName, msg.LastName),
		Body:  body,
		Data: map[string]string{
			DataID:       msg.ID.String(),
			DataChatID:   string(msg.ChatID),
			DataBotID:    msg.BotID.String(),
			DataName:     strings.TrimSpace(msg.FirstName + " " + msg.LastName),
			DataUsername: msg.Username,
			DataBotToken: msg.BotToken,
		},
	}
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
