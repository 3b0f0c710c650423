// Package mail reads a Gmail mailbox over the REST API using a caller-supplied
// OAuth access token.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

// ErrUnauthorized reports a rejected access token. Callers distinguish this
// from transient failures: the fix is reconnecting the account, not retrying.
var ErrUnauthorized = errors.New("mail: access token rejected")

// Message is one mailbox message, reduced to the fields triage needs.
type Message struct {
	ID      string
	From    string
	Subject string
	Snippet string
}

// Client communicates with the Gmail REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. An empty baseURL targets the public Gmail endpoint.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// listResponse mirrors GET /users/me/messages.
type listResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// messageResponse mirrors GET /users/me/messages/{id} with format=metadata.
type messageResponse struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
	Payload struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

// ListUnread returns up to max unread messages, newest first. Each listed id
// is fetched individually for its headers and snippet; a single failed fetch
// skips that message rather than failing the listing.
func (c *Client) ListUnread(ctx context.Context, accessToken string, max int) ([]Message, error) {
	q := url.Values{}
	q.Set("q", "is:unread")
	q.Set("maxResults", fmt.Sprint(max))

	var list listResponse
	if err := c.get(ctx, accessToken, "/users/me/messages?"+q.Encode(), &list); err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(list.Messages))
	for _, entry := range list.Messages {
		m, err := c.getMessage(ctx, accessToken, entry.ID)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return nil, err
			}
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (c *Client) getMessage(ctx context.Context, accessToken, id string) (Message, error) {
	q := url.Values{}
	q.Set("format", "metadata")
	q.Add("metadataHeaders", "From")
	q.Add("metadataHeaders", "Subject")

	var resp messageResponse
	if err := c.get(ctx, accessToken, "/users/me/messages/"+url.PathEscape(id)+"?"+q.Encode(), &resp); err != nil {
		return Message{}, err
	}

	m := Message{ID: resp.ID, Snippet: resp.Snippet}
	for _, h := range resp.Payload.Headers {
		switch h.Name {
		case "From":
			m.From = h.Value
		case "Subject":
			m.Subject = h.Value
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		m.Subject = "No Subject"
	}
	return m, nil
}

func (c *Client) get(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailbox request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("mailbox: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding mailbox response: %w", err)
	}
	return nil
}
