package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxAttempts = 3

// TwilioConfig configures TwilioSender.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	// Channel is "whatsapp" or "sms".
	Channel string
	Timeout time.Duration
}

// TwilioSender posts messages through Twilio's Messages REST API.
type TwilioSender struct {
	cfg        TwilioConfig
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
	logger     zerolog.Logger
}

func NewTwilioSender(cfg TwilioConfig, logger zerolog.Logger) *TwilioSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TwilioSender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 250 * time.Millisecond
		},
		logger: logger.With().Str("component", "twilio").Logger(),
	}
}

func (s *TwilioSender) address(phone string) string {
	if s.cfg.Channel == "whatsapp" {
		return "whatsapp:" + phone
	}
	return phone
}

// Send delivers a, retrying transport errors, 429 and 5xx responses.
func (s *TwilioSender) Send(ctx context.Context, a Alert) error {
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" {
		return errors.New("alert: twilio credentials missing")
	}
	to := NormalizePhone(a.To)
	if to == "" {
		return errors.New("alert: recipient required")
	}
	if strings.TrimSpace(a.Body) == "" {
		return errors.New("alert: body required")
	}

	form := url.Values{}
	form.Set("To", s.address(to))
	form.Set("From", s.address(s.cfg.From))
	form.Set("Body", a.Body)
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.AccountSID)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retry, err := s.post(ctx, endpoint, form)
		if err == nil {
			s.logger.Info().Str("event_id", a.EventID).Int("attempt", attempt).Msg("alert delivered")
			return nil
		}
		lastErr = err
		if !retry || attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(s.backoff(attempt)):
		}
	}
	return lastErr
}

func (s *TwilioSender) post(ctx context.Context, endpoint string, form url.Values) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	err = fmt.Errorf("twilio send failed: %s", formatTwilioError(resp.StatusCode, body))
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500, err
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func formatTwilioError(status int, body []byte) string {
	var parsed twilioAPIError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
	}
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(body)))
}
