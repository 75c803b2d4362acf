package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/outreach"
	"github.com/ignite/provider-outreach/internal/pkg/httpretry"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
	"github.com/ignite/provider-outreach/internal/pkg/retry"
)

// SMSConfig configures the HTTP messaging provider.
type SMSConfig struct {
	BaseURL string
	APIKey  string
	From    string
	// StatusCallbackURL receives delivery receipts for sent messages.
	StatusCallbackURL string
}

// SMSSender posts text messages to a REST messaging API:
// POST {base}/v1/messages {from,to,body,status_callback} → {id,status}.
type SMSSender struct {
	cfg  SMSConfig
	http httpretry.HTTPDoer
}

// NewSMSSender returns a sender. The dispatcher owns retries, so doer
// should be a plain client; nil uses one with a 10s timeout.
func NewSMSSender(cfg SMSConfig, doer httpretry.HTTPDoer) *SMSSender {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMSSender{cfg: cfg, http: doer}
}

func (s *SMSSender) Channel() domain.Channel { return domain.ChannelSMS }

type smsRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Body           string `json:"body"`
	StatusCallback string `json:"status_callback,omitempty"`
	Reference      string `json:"reference,omitempty"`
}

type smsResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (s *SMSSender) Send(ctx context.Context, msg outreach.Message) (outreach.SendResult, error) {
	to := outreach.NormalizePhone(msg.To)
	if to == "" {
		return outreach.SendResult{}, retry.Permanent(fmt.Errorf("sms: invalid phone number"))
	}
	payload, err := json.Marshal(smsRequest{
		From: s.cfg.From, To: to, Body: msg.Body,
		StatusCallback: s.cfg.StatusCallbackURL, Reference: msg.AttemptID,
	})
	if err != nil {
		return outreach.SendResult{}, retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return outreach.SendResult{}, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return outreach.SendResult{}, fmt.Errorf("sms: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var out smsResponse
	decodeErr := json.Unmarshal(body, &out)
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("sms: status %d: %s", resp.StatusCode, strings.TrimSpace(out.Error))
		if !httpretry.IsRetryableStatus(resp.StatusCode) {
			return outreach.SendResult{}, retry.Permanent(err)
		}
		return outreach.SendResult{}, err
	}
	// The provider accepted the message; sending again would duplicate it.
	if decodeErr != nil {
		return outreach.SendResult{}, retry.Permanent(fmt.Errorf("sms: status %d with unreadable body: %w", resp.StatusCode, decodeErr))
	}
	if out.ID == "" {
		return outreach.SendResult{}, retry.Permanent(fmt.Errorf("sms: status %d without message id", resp.StatusCode))
	}
	logger.Debug("sms sent", "phone", to, "message_id", out.ID, "attempt_id", msg.AttemptID)
	return outreach.SendResult{ProviderRef: out.ID, At: time.Now().UTC()}, nil
}
