// Package gmailer is a client for the Gmail REST API. OAuth credentials are
// per user, so callers acquire a user-scoped client per operation with
// Client.User and discard it; there is no shared mutable credential state.
package gmailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// UserClient wraps one user's token for the duration of a single operation.
type UserClient struct {
	c     *Client
	token string
}

func (c *Client) User(token string) *UserClient {
	return &UserClient{c: c, token: token}
}

type SendRequest struct {
	From    string
	To      string
	CC      string
	BCC     string
	Subject string
	Body    string
	IsHTML  bool
}

type SendResult struct {
	MessageID string
}

// Send builds an RFC 2822 message and submits it via users.messages.send.
func (u *UserClient) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	var msg strings.Builder
	if req.From != "" {
		fmt.Fprintf(&msg, "From: %s\r\n", req.From)
	}
	fmt.Fprintf(&msg, "To: %s\r\n", req.To)
	if req.CC != "" {
		fmt.Fprintf(&msg, "Cc: %s\r\n", req.CC)
	}
	if req.BCC != "" {
		fmt.Fprintf(&msg, "Bcc: %s\r\n", req.BCC)
	}
	fmt.Fprintf(&msg, "Subject: %s\r\n", req.Subject)
	if req.IsHTML {
		msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n")
	} else {
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	}
	msg.WriteString("\r\n")
	msg.WriteString(req.Body)

	raw := base64.URLEncoding.EncodeToString([]byte(msg.String()))
	var out struct {
		ID string `json:"id"`
	}
	err := u.do(ctx, http.MethodPost, "/users/me/messages/send", map[string]string{"raw": raw}, &out)
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{MessageID: out.ID}, nil
}

// Send is shorthand for User(token).Send for callers that hold a token per
// call rather than a user-scoped client.
func (c *Client) Send(ctx context.Context, token string, req SendRequest) (SendResult, error) {
	return c.User(token).Send(ctx, req)
}

type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// ListMessages runs a Gmail search query, capped at max results.
func (u *UserClient) ListMessages(ctx context.Context, query string, max int) ([]MessageRef, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	if max > 0 {
		q.Set("maxResults", strconv.Itoa(max))
	}
	var out struct {
		Messages []MessageRef `json:"messages"`
	}
	err := u.do(ctx, http.MethodGet, "/users/me/messages?"+q.Encode(), nil, &out)
	return out.Messages, err
}

type Message struct {
	ID          string   `json:"id"`
	Snippet     string   `json:"snippet"`
	Payload     Part     `json:"payload"`
	LabelIDs    []string `json:"labelIds"`
	InternalRaw string   `json:"internalDate"`
}

type Part struct {
	MimeType string   `json:"mimeType"`
	Filename string   `json:"filename"`
	Headers  []Header `json:"headers"`
	Body     PartBody `json:"body"`
	Parts    []Part   `json:"parts"`
}

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type PartBody struct {
	Data string `json:"data"`
	Size int    `json:"size"`
}

func (u *UserClient) GetMessage(ctx context.Context, id string) (Message, error) {
	var out Message
	err := u.do(ctx, http.MethodGet, "/users/me/messages/"+id+"?format=full", nil, &out)
	return out, err
}

// Watch registers a push-notification channel for the mailbox.
func (u *UserClient) Watch(ctx context.Context, topicName string, labelIDs []string) error {
	body := map[string]any{"topicName": topicName}
	if len(labelIDs) > 0 {
		body["labelIds"] = labelIDs
	}
	return u.do(ctx, http.MethodPost, "/users/me/watch", body, nil)
}

func (u *UserClient) Stop(ctx context.Context) error {
	return u.do(ctx, http.MethodPost, "/users/me/stop", nil, nil)
}

// HeaderValue scans the top-level headers, case-insensitively.
func (m Message) HeaderValue(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// PlainBody walks the MIME tree for the first text part, preferring
// text/plain over text/html.
func (m Message) PlainBody() string {
	if body := findBody(m.Payload, "text/plain"); body != "" {
		return body
	}
	return findBody(m.Payload, "text/html")
}

func (m Message) HasAttachments() bool {
	return hasAttachment(m.Payload)
}

func findBody(p Part, mimeType string) string {
	if strings.HasPrefix(p.MimeType, mimeType) && p.Body.Data != "" {
		// Gmail emits unpadded base64url; trim any padding before decoding.
		b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(p.Body.Data, "="))
		if err != nil {
			return ""
		}
		return string(b)
	}
	for _, child := range p.Parts {
		if body := findBody(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func hasAttachment(p Part) bool {
	if p.Filename != "" {
		return true
	}
	for _, child := range p.Parts {
		if hasAttachment(child) {
			return true
		}
	}
	return false
}

func (u *UserClient) do(ctx context.Context, method, path string, in, out any) error {
	baseURL := strings.TrimRight(u.c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://gmail.googleapis.com/gmail/v1"
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
	req.Header.Set("Authorization", "Bearer "+u.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := u.c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(b, &apiErr)
		if apiErr.Error.Message != "" {
			return fmt.Errorf("gmail %s %s: %s", method, path, apiErr.Error.Message)
		}
		return fmt.Errorf("gmail %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil && len(b) > 0 {
		return json.Unmarshal(b, out)
	}
	return nil
}
