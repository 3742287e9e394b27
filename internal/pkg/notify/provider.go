// Package notify sends booking confirmations, inbound-caller auto-replies and
// emergency escalations through an injectable SMS/voice provider, with
// append-only logging and dedupe keys so retried dispatches never double-text
// a customer.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
)

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// ProviderClient is the outbound SMS/voice surface. The Twilio implementation
// lives here; tests substitute fakes.
type ProviderClient interface {
	// SendSMS returns the provider message id.
	SendSMS(ctx context.Context, to, body string) (string, error)
	// MakeCall places a voice call with the given TwiML and returns the call SID.
	MakeCall(ctx context.Context, to, twiml string) (string, error)
}

type twilioClient struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
}

// NewTwilioClient builds the provider client from TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioClient() (ProviderClient, error) {
	accountSID := env.GetEnv("TWILIO_ACCOUNT_SID", "")
	authToken := env.GetEnv("TWILIO_AUTH_TOKEN", "")
	fromNumber := env.GetEnv("TWILIO_FROM_NUMBER", "")

	var missing []string
	if accountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if authToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if fromNumber == "" {
		missing = append(missing, "TWILIO_FROM_NUMBER")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("twilio client is not configured, missing %s", strings.Join(missing, ", "))
	}

	return &twilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    twilioBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Unconfigured is the provider used when the Twilio env vars are absent.
// The process still boots and takes bookings; every send fails with the
// original configuration error and lands in the outbox or the logs.
func Unconfigured(err error) ProviderClient {
	return unconfiguredClient{err: err}
}

type unconfiguredClient struct {
	err error
}

func (c unconfiguredClient) SendSMS(ctx context.Context, to, body string) (string, error) {
	return "", c.err
}

func (c unconfiguredClient) MakeCall(ctx context.Context, to, twiml string) (string, error) {
	return "", c.err
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// SendSMS posts to the Messages endpoint with Basic auth and an urlencoded
// form, the wire contract Twilio's REST API expects.
func (c *twilioClient) SendSMS(ctx context.Context, to, body string) (string, error) {
	form := url.Values{
		"To":   {to},
		"From": {c.fromNumber},
		"Body": {body},
	}
	return c.post(ctx, fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID), form)
}

// MakeCall posts to the Calls endpoint with inline TwiML.
func (c *twilioClient) MakeCall(ctx context.Context, to, twiml string) (string, error) {
	form := url.Values{
		"To":    {to},
		"From":  {c.fromNumber},
		"Twiml": {twiml},
	}
	return c.post(ctx, fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID), form)
}

func (c *twilioClient) post(ctx context.Context, endpoint string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio request failed: %v", err)
	}
	defer resp.Body.Close()

	var parsed twilioResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode twilio response: %v", err)
	}

	if resp.StatusCode >= 400 {
		msg := parsed.Message
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("twilio error %d: %s", parsed.Code, msg)
	}
	return parsed.SID, nil
}
