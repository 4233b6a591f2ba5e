package notification

import (
	"context"
	"log/slog"
)

const (
	KindDepositConfirmed = "deposit_confirmed"
	KindDepositFailed    = "deposit_failed"
	KindWithdrawal       = "withdrawal"
	KindEscrowFunded     = "escrow_funded"
	KindEscrowReleased   = "escrow_released"
	KindEscrowRefunded   = "escrow_refunded"
	KindDisputeOpened    = "dispute_opened"
	KindDisputeResolved  = "dispute_resolved"
)

// Message describes a notification payload.
type Message struct {
	Kind        string `json:"kind"`
	Destination string `json:"destination"`
	ContractID  string `json:"contract_id,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Body        string `json:"body"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger. Used when no broker is configured.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("contract_id", message.ContractID),
		slog.String("amount", message.Amount),
		slog.String("body", message.Body),
	)
	return nil
}

// Nop discards every message.
type Nop struct{}

func (Nop) Send(context.Context, Message) error { return nil }
