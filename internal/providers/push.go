package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
	"touchpoint-service/internal/config"
)

// PushMessage is the payload accepted by the push gateway.
type PushMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Sound string            `json:"sound,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushReceipt is the gateway's answer for one message.
type PushReceipt struct {
	Status  string `json:"status"` // "ok" or "error"
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Raw     string `json:"-"`
}

// OK reports whether the gateway accepted the message.
func (r PushReceipt) OK() bool { return r.Status == "ok" }

// Push sends notifications to the push gateway over HTTP.
type Push struct {
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewPush builds a gateway client from config.
func NewPush(cfg config.Config) *Push {
	return &Push{
		url:     cfg.Push.GatewayURL,
		token:   cfg.Push.AccessToken,
		client:  &http.Client{Timeout: cfg.Push.Timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.Push.RatePerSecond)), cfg.Push.RatePerSecond),
	}
}

// Send posts one message. A transport error or non-2xx status is returned as
// an error with whatever receipt could be read; a 2xx answer with status
// "error" is returned as a receipt without error.
func (p *Push) Send(ctx context.Context, msg PushMessage) (PushReceipt, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return PushReceipt{Status: "error"}, fmt.Errorf("push rate limit wait: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return PushReceipt{Status: "error"}, fmt.Errorf("failed to encode push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return PushReceipt{Status: "error"}, fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return PushReceipt{Status: "error", Message: err.Error()}, fmt.Errorf("failed to reach push gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	receipt := PushReceipt{Raw: string(raw)}
	if len(raw) > 0 {
		if err := decodeReceipt(raw, &receipt); err != nil {
			receipt.Status = "error"
			receipt.Message = "unreadable gateway response"
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		receipt.Status = "error"
		return receipt, fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}
	if receipt.Status == "" {
		receipt.Status = "error"
		receipt.Message = "gateway response missing status"
	}
	return receipt, nil
}

// pushEnvelope is the gateway's wrapped answer: {"data": receipt} for a
// single message, {"data": [receipt]} for a batch, {"errors": [...]} when the
// request itself was rejected.
type pushEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// decodeReceipt accepts both the bare receipt and the wrapped envelope.
func decodeReceipt(raw []byte, receipt *PushReceipt) error {
	var env pushEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	if len(env.Errors) > 0 {
		receipt.Status = "error"
		receipt.Message = env.Errors[0].Message
		return nil
	}

	body := bytes.TrimSpace(env.Data)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return json.Unmarshal(raw, receipt)
	}
	if body[0] == '[' {
		var batch []PushReceipt
		if err := json.Unmarshal(body, &batch); err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		body, _ = json.Marshal(batch[0])
	}
	return json.Unmarshal(body, receipt)
}
