// Package client talks to a mediator over HTTP. It is what a ceremony coordinator on each
// participating device uses to join sessions, exchange protocol messages and publish results.
//
// Non-2xx responses are returned as errors: 404 wraps ErrNotFound, a rejected payload wraps
// ErrHashMismatch, everything else is a *StatusError carrying the method, URL and status.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vultisig/vultisig-mediator/model"
	"github.com/vultisig/vultisig-mediator/relay"
	"github.com/vultisig/vultisig-mediator/server"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrHashMismatch = errors.New("hash mismatch")
)

type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("mediator %s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("mediator %s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Body)
}

type Client struct {
	Base string
	HTTP *http.Client
}

func New(base string) *Client {
	return &Client{Base: strings.TrimRight(base, "/"), HTTP: http.DefaultClient}
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/ping", "", nil)
	return err
}

// Join adds participants to a session, creating it when needed.
func (c *Client) Join(ctx context.Context, sessionID string, participants ...string) error {
	if participants == nil {
		participants = []string{}
	}
	return c.postJSON(ctx, "/"+url.PathEscape(sessionID), "", participants)
}

func (c *Client) Participants(ctx context.Context, sessionID string) ([]string, error) {
	return c.getIDs(ctx, "/"+url.PathEscape(sessionID))
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/"+url.PathEscape(sessionID), "", nil)
	return err
}

// StartSession replaces the participants selected to run the next round.
func (c *Client) StartSession(ctx context.Context, sessionID string, participants []string) error {
	return c.postJSON(ctx, "/start/"+url.PathEscape(sessionID), "", participants)
}

func (c *Client) StartedParticipants(ctx context.Context, sessionID string) ([]string, error) {
	return c.getIDs(ctx, "/start/"+url.PathEscape(sessionID))
}

func (c *Client) Complete(ctx context.Context, sessionID string, participants ...string) error {
	return c.postJSON(ctx, "/complete/"+url.PathEscape(sessionID), "", participants)
}

func (c *Client) CompletedParticipants(ctx context.Context, sessionID string) ([]string, error) {
	return c.getIDs(ctx, "/complete/"+url.PathEscape(sessionID))
}

func (c *Client) SetKeysignResult(ctx context.Context, sessionID, messageID, result string) error {
	_, err := c.do(ctx, http.MethodPost, "/complete/"+url.PathEscape(sessionID)+"/keysign", messageID, strings.NewReader(result))
	return err
}

func (c *Client) KeysignResult(ctx context.Context, sessionID, messageID string) (string, error) {
	buf, err := c.do(ctx, http.MethodGet, "/complete/"+url.PathEscape(sessionID)+"/keysign", messageID, nil)
	return string(buf), err
}

// SendMessage posts m to every recipient in m.To. messageID is the optional round tag.
func (c *Client) SendMessage(ctx context.Context, sessionID, messageID string, m model.Message) error {
	return c.postJSON(ctx, "/message/"+url.PathEscape(sessionID), messageID, m)
}

// Messages returns the messages waiting for participant without removing them.
func (c *Client) Messages(ctx context.Context, sessionID, participant, messageID string) ([]model.Message, error) {
	buf, err := c.do(ctx, http.MethodGet, messagePath(sessionID, participant), messageID, nil)
	if err != nil {
		return nil, err
	}
	var messages []model.Message
	if len(bytes.TrimSpace(buf)) == 0 {
		return messages, nil
	}
	if err := json.Unmarshal(buf, &messages); err != nil {
		return nil, fmt.Errorf("fail to decode messages, err: %w", err)
	}
	return messages, nil
}

// DeleteMessage acknowledges a processed message.
func (c *Client) DeleteMessage(ctx context.Context, sessionID, participant, hash, messageID string) error {
	_, err := c.do(ctx, http.MethodDelete, messagePath(sessionID, participant)+"/"+url.PathEscape(hash), messageID, nil)
	return err
}

// UploadPayload stores content and returns the hash it can be fetched by.
func (c *Client) UploadPayload(ctx context.Context, content string) (string, error) {
	hash := relay.Hash(content)
	if _, err := c.do(ctx, http.MethodPost, "/payload/"+hash, "", strings.NewReader(content)); err != nil {
		return "", err
	}
	return hash, nil
}

// Payload fetches the content stored under hash and checks it against the hash.
func (c *Client) Payload(ctx context.Context, hash string) (string, error) {
	buf, err := c.do(ctx, http.MethodGet, "/payload/"+url.PathEscape(hash), "", nil)
	if err != nil {
		return "", err
	}
	content := string(buf)
	if relay.Hash(content) != strings.ToLower(hash) {
		return "", ErrHashMismatch
	}
	return content, nil
}

func (c *Client) SetSetupMessage(ctx context.Context, sessionID, messageID, content string) error {
	_, err := c.do(ctx, http.MethodPost, "/setup-message/"+url.PathEscape(sessionID), messageID, strings.NewReader(content))
	return err
}

func (c *Client) SetupMessage(ctx context.Context, sessionID, messageID string) (string, error) {
	buf, err := c.do(ctx, http.MethodGet, "/setup-message/"+url.PathEscape(sessionID), messageID, nil)
	return string(buf), err
}

// messagePath query escapes the participant key, the mediator query unescapes it.
func messagePath(sessionID, participant string) string {
	return "/message/" + url.PathEscape(sessionID) + "/" + url.QueryEscape(participant)
}

func (c *Client) postJSON(ctx context.Context, path, messageID string, in any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodPost, path, messageID, buf)
	return err
}

func (c *Client) getIDs(ctx context.Context, path string) ([]string, error) {
	buf, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(buf, &ids); err != nil {
		return nil, fmt.Errorf("fail to decode participants, err: %w", err)
	}
	return ids, nil
}

func (c *Client) do(ctx context.Context, method, path, messageID string, body io.Reader) ([]byte, error) {
	contentType := "text/plain"
	if _, ok := body.(*bytes.Buffer); ok {
		contentType = "application/json"
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if messageID != "" {
		req.Header.Set(server.MessageIDHeader, messageID)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 == 2 {
		return buf, nil
	}
	statusErr := &StatusError{
		Method:     method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(buf)),
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w", ErrNotFound, statusErr)
	case resp.StatusCode == http.StatusBadRequest && statusErr.Body == relay.ErrHashMismatch.Error():
		return nil, fmt.Errorf("%w: %w", ErrHashMismatch, statusErr)
	default:
		return nil, statusErr
	}
}
