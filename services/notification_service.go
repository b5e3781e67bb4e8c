package services

import (
	"context"
	"log"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"
)

// PushNotifier delivers a push notification to a device. Delivery is
// best effort: callers must never fail their own operation on a push
// error.
type PushNotifier interface {
	Notify(ctx context.Context, deviceToken, title, body string, data map[string]string) error
}

type fcmNotifier struct {
	client *messaging.Client
}

// NewFCMNotifier builds a PushNotifier backed by Firebase Cloud
// Messaging using the given service-account credentials file.
func NewFCMNotifier(ctx context.Context, credentialsFile string) (PushNotifier, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, err
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, err
	}

	log.Println("Firebase Messaging client initialized")
	return &fcmNotifier{client: client}, nil
}

func (n *fcmNotifier) Notify(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}

	_, err := n.client.Send(ctx, message)
	return err
}

// noopNotifier is used when no push credentials are configured
type noopNotifier struct{}

func NewNoopNotifier() PushNotifier {
	return noopNotifier{}
}

func (noopNotifier) Notify(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	return nil
}
