package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Social publishes statuses to a Mastodon-compatible statuses endpoint
// with a bearer token.
type Social struct {
	endpoint string
	token    string
	http     *http.Client
}

func NewSocial(endpoint, token string) (*Social, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("social endpoint is empty")
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("social access token is empty")
	}
	return &Social{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (s *Social) Name() string { return "social" }

func (s *Social) Post(ctx context.Context, status string) error {
	form := url.Values{"status": {status}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("social post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("social post: unexpected status %s", resp.Status)
	}
	return nil
}
