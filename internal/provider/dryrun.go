package provider

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DryRunGateway logs messages instead of delivering them. It stands in for
// FCM when push delivery is disabled.
type DryRunGateway struct {
	logger *zap.Logger
}

func NewDryRunGateway(logger *zap.Logger) *DryRunGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRunGateway{logger: logger}
}

func (g *DryRunGateway) Send(_ context.Context, msg Message) (*Response, error) {
	messageID := "dry-run-" + uuid.NewString()
	g.logger.Info("push delivery disabled, message not sent",
		zap.String("messageId", messageID),
		zap.String("type", msg.Data[DataKeyType]),
		zap.String("userId", msg.Data[DataKeyUserID]),
	)
	return &Response{MessageID: messageID, Body: messageID}, nil
}
