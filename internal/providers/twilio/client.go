package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client talks to the Twilio Messages API.
type Client struct {
	AccountSID string
	AuthToken  string
	HTTP       *http.Client

	FromNumber string
	BaseURL    string
}

type SendResponse struct {
	Sid       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode *int   `json:"error_code"`
	Message   string `json:"message"`
}

// SendSMS sends one message. from may be empty, in which case the client's
// default number is used.
func (c *Client) SendSMS(ctx context.Context, to, body, from string) (SendResponse, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("Body", body)
	if from == "" {
		from = c.FromNumber
	}
	form.Set("From", from)

	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	endpoint := baseURL + "/2010-04-01/Accounts/" + c.AccountSID + "/Messages.json"
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.AccountSID, c.AuthToken)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return SendResponse{}, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out SendResponse
	_ = json.Unmarshal(b, &out)

	// Twilio returns 201 for created; treat 2xx as success
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Message != "" {
			return out, errors.New(out.Message)
		}
		return out, errors.New("twilio send failed")
	}
	return out, nil
}
