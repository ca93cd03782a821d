package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/teslamotors/bluetooth-policy/internal/authentication"
	"github.com/teslamotors/bluetooth-policy/internal/log"
)

const (
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookAttempts = 3
	webhookRetryInterval   = 500 * time.Millisecond
	tokenLifetime          = time.Minute
)

// Webhook POSTs notifications as JSON to a URL. Each request carries an HS256 bearer token whose
// "jti" claim is the notification ID.
type Webhook struct {
	URL      string
	Secret   []byte
	Client   *http.Client
	Attempts int

	queue queue
	log   log.Logger
}

func NewWebhook(url string, secret []byte, queueSize int) *Webhook {
	return &Webhook{
		URL:      url,
		Secret:   secret,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
		Attempts: defaultWebhookAttempts,
		queue:    newQueue(queueSize),
		log:      log.Tag("webhook"),
	}
}

func (w *Webhook) Publish(n Notification) {
	if !w.queue.push(n) {
		w.log.Warning("Queue full, dropped oldest notification")
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (w *Webhook) Run(ctx context.Context) {
	w.queue.run(ctx, func(n Notification) {
		if err := w.Deliver(ctx, n); err != nil {
			w.log.Warning("Giving up on notification %s: %s", n.ID, err)
		}
	})
}

// Deliver sends n, retrying server errors and transport failures.
func (w *Webhook) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	attempts := w.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; ; i++ {
		var retry bool
		retry, err = w.post(ctx, n, body)
		if err == nil || !retry || i+1 >= attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(webhookRetryInterval):
		}
	}
}

func (w *Webhook) post(ctx context.Context, n Notification, body []byte) (bool, error) {
	token, err := authentication.SignToken(w.Secret, authentication.AudienceWebhook, tokenLifetime,
		jwt.MapClaims{"jti": n.ID.String()})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook returned %s", resp.Status)
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("webhook returned %s", resp.Status)
	}
	return false, nil
}
