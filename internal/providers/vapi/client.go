// Package vapi is a thin client for the voice-campaign platform: phone-number
// validation, campaign creation and status transitions.
package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type Client struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

type Customer struct {
	Name   string `json:"name,omitempty"`
	Number string `json:"number"`
	Email  string `json:"email,omitempty"`
}

type CreateCampaignRequest struct {
	Name          string     `json:"name"`
	PhoneNumberID string     `json:"phoneNumberId"`
	Customers     []Customer `json:"customers"`
	AssistantID   string     `json:"assistantId,omitempty"`
	WorkflowID    string     `json:"workflowId,omitempty"`
}

type Campaign struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

const (
	StatusScheduled  = "scheduled"
	StatusInProgress = "in-progress"
)

// ValidatePhoneNumber confirms the platform knows the given phone-number id.
func (c *Client) ValidatePhoneNumber(ctx context.Context, id string) error {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/phone-number/"+id, nil, &out); err != nil {
		return err
	}
	if out.ID == "" {
		return errors.New("phone number not found on voice platform")
	}
	return nil
}

func (c *Client) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (Campaign, error) {
	var out Campaign
	if err := c.do(ctx, http.MethodPost, "/campaign", req, &out); err != nil {
		return Campaign{}, err
	}
	if out.ID == "" {
		return Campaign{}, errors.New("campaign create returned no id")
	}
	return out, nil
}

func (c *Client) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	var out Campaign
	err := c.do(ctx, http.MethodGet, "/campaign/"+id, nil, &out)
	return out, err
}

func (c *Client) SetCampaignStatus(ctx context.Context, id, status string) error {
	body := map[string]string{"status": status}
	return c.do(ctx, http.MethodPatch, "/campaign/"+id, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.vapi.ai"
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(b, &apiErr)
		if apiErr.Message != "" {
			return fmt.Errorf("vapi %s %s: %s", method, path, apiErr.Message)
		}
		return fmt.Errorf("vapi %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(b, out)
	}
	return nil
}
