package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/psdew2ewqws/NexaraVision-sub000/internal/models"
)

// Client posts triggered alerts to an external webhook. A missing URL
// disables delivery without disabling detection.
type Client struct {
	URL  string
	http *http.Client
}

func NewClient(webhookURL string) *Client {
	return &Client{
		URL:  webhookURL,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendAlert delivers one alert. Failures are the caller's to log; alerts
// are fire-and-forget and never block the detection loop.
func (c *Client) SendAlert(ctx context.Context, alert models.AlertEvent) error {
	if c.URL == "" {
		return nil
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bad status: %s, error: %s", resp.Status, bodyBytes)
	}

	log.Printf("Notify[%s]: alert delivered (%s)", alert.SessionID, resp.Status)
	return nil
}
