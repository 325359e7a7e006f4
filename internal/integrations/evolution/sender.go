// Package evolution sends outbound texts through an Evolution API gateway.
package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Getter resolves SSM parameters; satisfied by paramstore clients.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// sendTextRequest is the sendText payload of the gateway.
type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// Sender delivers texts via POST /message/sendText/{instance}. The gateway
// API key is fetched from SSM on first use and reused afterwards.
type Sender struct {
	baseURL     string
	instance    string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Sender)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *Sender) {
		s.httpClient = httpClient
	}
}

func NewSender(ps Getter, paramPrefix, baseURL, instance string, opts ...Option) (*Sender, error) {
	if ps == nil {
		return nil, errors.New("evolution: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("evolution: parameter prefix must not be empty")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("evolution: base URL must not be empty")
	}
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return nil, errors.New("evolution: instance must not be empty")
	}
	s := &Sender{
		baseURL:     baseURL,
		instance:    instance,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sender) resolveAPIKey(ctx context.Context) (string, error) {
	s.keyOnce.Do(func() {
		raw, err := s.getter.GetParameter(ctx, s.paramPrefix+"/evolution-api-key")
		if err != nil {
			s.keyErr = fmt.Errorf("evolution: fetch api key: %w", err)
			return
		}
		s.apiKey = strings.TrimSpace(raw)
		if s.apiKey == "" {
			s.keyErr = errors.New("evolution: api key is empty")
		}
	})
	return s.apiKey, s.keyErr
}

// Send delivers one text to the user's chat. userID is the bare phone
// number, as extracted from the inbound JID.
func (s *Sender) Send(ctx context.Context, userID, text string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("evolution: user id must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("evolution: text must not be empty")
	}

	apiKey, err := s.resolveAPIKey(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(sendTextRequest{Number: userID, Text: text})
	if err != nil {
		return fmt.Errorf("evolution: marshal request: %w", err)
	}

	url := s.baseURL + "/message/sendText/" + s.instance
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("evolution: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", apiKey)

	res, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("evolution: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("evolution: unexpected status %d from %s: %s", res.StatusCode, url, string(buf))
	}
	return nil
}
