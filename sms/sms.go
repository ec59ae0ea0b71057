// Package sms sends text messages to residents and their contacts.
package sms

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Provider interface {
	Send(ctx context.Context, phone, message string) error
}

const defaultTwilioURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
}

// Twilio sends messages through the Twilio Messages API.
type Twilio struct {
	cfg    TwilioConfig
	client *http.Client
}

var _ Provider = (*Twilio)(nil)

func NewTwilio(cfg TwilioConfig) (*Twilio, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, errors.New("twilio: account sid, auth token and from number are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Twilio{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}, nil
}

func (t *Twilio) Send(ctx context.Context, phone, message string) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.cfg.BaseURL, t.cfg.AccountSID)
	form := url.Values{}
	form.Set("To", phone)
	form.Set("From", t.cfg.From)
	form.Set("Body", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twilio error: %s", resp.Status)
	}
	return nil
}

// LogProvider only logs messages. It is used when Twilio is not configured.
type LogProvider struct{}

func (LogProvider) Send(ctx context.Context, phone, message string) error {
	log.Printf("SMS: (not sent) to %s: %s", phone, message)
	return nil
}
