package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrPipelineUnavailable = errors.New("pipeline_unavailable")

type GenerateRequest struct {
	UnitID string `json:"usage_unit_id"`
	Kind   string `json:"kind"`
	Prompt string `json:"prompt"`
	Locale string `json:"locale"`
}

// Generator produces the text of a reading.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Synthesizer turns generated text into audio and returns its URL.
type Synthesizer interface {
	Synthesize(ctx context.Context, unitID, text, locale string) (string, error)
}

type HTTPGenerator struct {
	url    string
	client *http.Client
}

func NewHTTPGenerator(url string, client *http.Client) *HTTPGenerator {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPGenerator{url: strings.TrimSpace(url), client: client}
}

func (g *HTTPGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := postJSON(ctx, g.client, g.url, req, &out); err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty generation", ErrPipelineUnavailable)
	}
	return text, nil
}

type HTTPSynthesizer struct {
	url    string
	client *http.Client
}

func NewHTTPSynthesizer(url string, client *http.Client) *HTTPSynthesizer {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPSynthesizer{url: strings.TrimSpace(url), client: client}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, unitID, text, locale string) (string, error) {
	body := map[string]string{
		"usage_unit_id": unitID,
		"text":          text,
		"locale":        locale,
	}
	var out struct {
		AudioURL string `json:"audio_url"`
	}
	if err := postJSON(ctx, s.client, s.url, body, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.AudioURL), nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPipelineUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPipelineUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrPipelineUnavailable, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrPipelineUnavailable, err)
	}
	return nil
}

// staticGenerator answers every request with a canned reading. It backs
// local runs where no generator endpoint is configured.
type staticGenerator struct{}

func (staticGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return fmt.Sprintf("Your %s reading is being prepared.", req.Kind), nil
}
