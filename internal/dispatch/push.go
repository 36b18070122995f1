package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/tagalong/internal/events"
)

// Push posts lifecycle events to an external push-notification gateway for
// users without a live websocket session.
type Push struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewPush(endpoint, key string) *Push {
	return &Push{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

// Notify is best-effort; the gateway owns retries and token lookup.
func (p *Push) Notify(userID string, e events.Event) error {
	body := map[string]interface{}{"user_id": userID, "event": e}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
