package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neelvaidya133/bankify/internal/domain"
	"github.com/neelvaidya133/bankify/pkg/rabbitmq"
)

const TransferReceivedRoutingKey = "notification.transfer.received"

// TransferReceivedEvent is the message body consumed by the notification delivery service.
type TransferReceivedEvent struct {
	EventID        uuid.UUID `json:"event_id"`
	RecipientEmail string    `json:"recipient_email"`
	RecipientName  string    `json:"recipient_name"`
	SenderName     string    `json:"sender_name"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	AccountTail    string    `json:"account_tail"`
	Date           time.Time `json:"date"`
}

// RabbitTransferNotifier publishes transfer notifications to a topic exchange.
type RabbitTransferNotifier struct {
	publisher rabbitmq.Publisher
	exchange  string
}

func NewRabbitTransferNotifier(publisher rabbitmq.Publisher, exchange string) *RabbitTransferNotifier {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "bankify.events"
	}
	return &RabbitTransferNotifier{publisher: publisher, exchange: exchange}
}

func (n *RabbitTransferNotifier) NotifyTransfer(ctx context.Context, notification domain.TransferNotification) error {
	event := TransferReceivedEvent{
		EventID:        uuid.New(),
		RecipientEmail: notification.RecipientEmail,
		RecipientName:  notification.RecipientName,
		SenderName:     notification.SenderName,
		Amount:         notification.Amount.String(),
		Currency:       notification.Currency,
		AccountTail:    notification.AccountTail,
		Date:           notification.Date,
	}
	return n.publisher.Publish(ctx, n.exchange, TransferReceivedRoutingKey, event)
}
