package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// messagingClient is the subset of *messaging.Client the gateway uses.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMGateway delivers push messages through Firebase Cloud Messaging.
type FCMGateway struct {
	client messagingClient
}

// NewFCMGateway initialises a Firebase app from a service-account file. An
// empty path falls back to Application Default Credentials.
func NewFCMGateway(ctx context.Context, credentialsFile string) (*FCMGateway, error) {
	var opts []option.ClientOption
	if path := strings.TrimSpace(credentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}

	return newFCMGatewayWithClient(client)
}

func newFCMGatewayWithClient(client messagingClient) (*FCMGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("messaging client is required")
	}
	return &FCMGateway{client: client}, nil
}

func (g *FCMGateway) Send(ctx context.Context, msg Message) (*Response, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("gateway is not initialized")
	}
	if strings.TrimSpace(msg.Token) == "" {
		return nil, &DeliveryError{Code: "INVALID_ARGUMENT", Message: "recipient token is required"}
	}

	messageID, err := g.client.Send(ctx, toFCMMessage(msg))
	if err != nil {
		return nil, classifyFCMError(err)
	}

	return &Response{MessageID: messageID, Body: messageID}, nil
}

func toFCMMessage(msg Message) *messaging.Message {
	return &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
	}
}

var fcmErrorClasses = []struct {
	match     func(error) bool
	code      string
	transient bool
}{
	{match: messaging.IsUnregistered, code: "UNREGISTERED"},
	{match: messaging.IsInvalidArgument, code: "INVALID_ARGUMENT"},
	{match: messaging.IsSenderIDMismatch, code: "SENDER_ID_MISMATCH"},
	{match: messaging.IsThirdPartyAuthError, code: "THIRD_PARTY_AUTH_ERROR"},
	{match: messaging.IsQuotaExceeded, code: "QUOTA_EXCEEDED", transient: true},
	{match: messaging.IsUnavailable, code: "UNAVAILABLE", transient: true},
	{match: messaging.IsInternal, code: "INTERNAL", transient: true},
	{match: errorutils.IsDeadlineExceeded, code: "DEADLINE_EXCEEDED", transient: true},
}

func classifyFCMError(err error) error {
	deliveryErr := &DeliveryError{
		Message: "fcm send failed",
		Cause:   err,
	}
	if resp := errorutils.HTTPResponse(err); resp != nil {
		deliveryErr.StatusCode = resp.StatusCode
	}

	for _, class := range fcmErrorClasses {
		if class.match(err) {
			deliveryErr.Code = class.code
			deliveryErr.Transient = class.transient
			return deliveryErr
		}
	}

	// Unclassified failures (network, auth refresh) are retried.
	deliveryErr.Code = "UNKNOWN"
	deliveryErr.Transient = !errors.Is(err, context.Canceled)
	return deliveryErr
}
