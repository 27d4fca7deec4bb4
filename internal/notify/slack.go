package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Slack posts statuses to a Slack incoming webhook.
type Slack struct {
	webhookURL string
	http       *http.Client
}

func NewSlack(webhookURL string) (*Slack, error) {
	if strings.TrimSpace(webhookURL) == "" {
		return nil, errors.New("slack webhook url is empty")
	}
	return &Slack{
		webhookURL: webhookURL,
		http:       &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Post(ctx context.Context, status string) error {
	body, err := json.Marshal(map[string]string{"text": status})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack webhook: unexpected status %s", resp.Status)
	}
	return nil
}
