package delivery

import (
	"context"
	"strconv"

	"github.com/sells-group/fieldrelay/internal/model"
	"github.com/sells-group/fieldrelay/pkg/telegram"
)

// TelegramTransport sends workbooks as Telegram documents.
type TelegramTransport struct {
	client telegram.Client
}

// NewTelegramTransport wraps a Bot API client.
func NewTelegramTransport(client telegram.Client) *TelegramTransport {
	return &TelegramTransport{client: client}
}

// SendFile implements Transport.
func (t *TelegramTransport) SendFile(ctx context.Context, conversationID, filename string, data []byte) error {
	return t.client.SendDocument(ctx, conversationID, filename, data)
}

// FromTelegram converts a Telegram group message into a ChatMessage and the
// message id used for relay deduplication.
func FromTelegram(msg telegram.Message) (model.ChatMessage, string) {
	cm := model.ChatMessage{
		ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		Title:          msg.Chat.Title,
		Text:           msg.Text,
		CreatedAt:      msg.Time(),
	}
	if msg.From != nil {
		cm.SenderID = msg.From.ID
		cm.SenderName = msg.From.DisplayName()
	}
	return cm, strconv.FormatInt(msg.MessageID, 10)
}
