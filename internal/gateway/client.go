// internal/gateway/client.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/astercc518/outreachd/internal/config"
	"github.com/astercc518/outreachd/internal/outcome"
)

// Client performs the outreach action against the platform gateway. One
// POST per unit of work; every transport failure, timeout included, is
// folded into an error result so the execution loop never sees a Go error
// from here.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{
		baseURL: cfg.URL,
		token:   cfg.Token,
		http: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
	}
}

type inviteRequest struct {
	DelegateID       string `json:"delegateId"`
	TargetID         string `json:"targetId"`
	DestinationGroup string `json:"destinationGroup"`
}

type inviteResponse struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

// Invite asks the gateway to add the target to the destination group on
// behalf of the delegate. The returned code is one of the outcome.Code*
// constants; anything the gateway reports outside that set is preserved
// verbatim in the message and classified as an error downstream.
func (c *Client) Invite(ctx context.Context, delegateID, targetID, destinationGroup string) outcome.ExecResult {
	payload, err := json.Marshal(inviteRequest{
		DelegateID:       delegateID,
		TargetID:         targetID,
		DestinationGroup: destinationGroup,
	})
	if err != nil {
		return outcome.ExecResult{Code: outcome.CodeError, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invite", bytes.NewReader(payload))
	if err != nil {
		return outcome.ExecResult{Code: outcome.CodeError, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return outcome.ExecResult{Code: outcome.CodeError, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return outcome.ExecResult{
			Code:    outcome.CodeError,
			Message: fmt.Sprintf("gateway returned status %d", resp.StatusCode),
		}
	}

	var body inviteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return outcome.ExecResult{Code: outcome.CodeError, Message: err.Error()}
	}

	switch body.Result {
	case outcome.CodeOK, outcome.CodePrivacyRestricted, outcome.CodeFloodWait, outcome.CodeBanned:
		return outcome.ExecResult{Code: body.Result, Message: body.Message}
	default:
		msg := body.Message
		if msg == "" {
			msg = fmt.Sprintf("unknown gateway result %q", body.Result)
		}
		return outcome.ExecResult{Code: outcome.CodeError, Message: msg}
	}
}
