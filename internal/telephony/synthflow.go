package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callpilot/internal/calls"
)

const (
	DefaultSynthflowBaseURL = "https://api.synthflow.ai/v2"
	DefaultRequestTimeout   = 30 * time.Second

	maxResponseBody = 4 << 20
)

type SynthflowConfig struct {
	BaseURL string
	APIKey  string

	// AssistantID is the Synthflow model_id that places the calls.
	AssistantID string

	// FromNumber is informational; it is rendered into the agent prompt.
	FromNumber string

	Timeout    time.Duration
	HTTPClient *http.Client
}

// SynthflowProvider talks to the Synthflow v2 REST API.
type SynthflowProvider struct {
	base    *url.URL
	apiKey  string
	modelID string
	from    string
	timeout time.Duration
	client  *http.Client
}

func NewSynthflowProvider(cfg SynthflowConfig) (*SynthflowProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("telephony: synthflow api key is required")
	}
	if strings.TrimSpace(cfg.AssistantID) == "" {
		return nil, errors.New("telephony: synthflow assistant id is required")
	}
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultSynthflowBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("telephony: invalid synthflow base url %q", raw)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &SynthflowProvider{
		base:    base,
		apiKey:  cfg.APIKey,
		modelID: cfg.AssistantID,
		from:    cfg.FromNumber,
		timeout: timeout,
		client:  client,
	}, nil
}

func (p *SynthflowProvider) Name() string { return "synthflow" }

// HealthCheck verifies credentials and that the assistant has an outbound
// number assigned. Calls placed from an assistant without one sit in the
// provider's queue until they are abandoned.
func (p *SynthflowProvider) HealthCheck(ctx context.Context) error {
	const op = "health_check"
	body, err := p.do(ctx, op, http.MethodGet, "/assistants/"+url.PathEscape(p.modelID), nil)
	if err != nil {
		return err
	}
	var env struct {
		Response struct {
			Assistants []assistant `json:"assistants"`
			assistant
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return malformed(op, body, err)
	}
	a := env.Response.assistant
	if len(env.Response.Assistants) > 0 {
		a = env.Response.Assistants[0]
	}
	if strings.TrimSpace(a.PhoneNumber) == "" {
		return fmt.Errorf("telephony: assistant %s has no phone number assigned", p.modelID)
	}
	return nil
}

type assistant struct {
	PhoneNumber    string `json:"phone_number"`
	CallerIDNumber string `json:"caller_id_number"`
}

type createCallPayload struct {
	ModelID  string `json:"model_id"`
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	Greeting string `json:"greeting"`
}

func (p *SynthflowProvider) CreateCall(ctx context.Context, req calls.CallRequest) (CreateCallResult, error) {
	const op = "create_call"
	prompt, err := renderPrompt(req, p.from)
	if err != nil {
		return CreateCallResult{}, fmt.Errorf("telephony: render prompt: %w", err)
	}
	greeting, err := renderGreeting(req)
	if err != nil {
		return CreateCallResult{}, fmt.Errorf("telephony: render greeting: %w", err)
	}
	payload := createCallPayload{
		ModelID:  p.modelID,
		Phone:    calls.NormalizePhone(req.PhoneNumber),
		Name:     req.CallerName,
		Prompt:   prompt,
		Greeting: greeting,
	}
	body, err := p.do(ctx, op, http.MethodPost, "/calls", payload)
	if err != nil {
		return CreateCallResult{}, err
	}

	var env struct {
		Status   string `json:"status"`
		Response *struct {
			CallID string `json:"call_id"`
		} `json:"response"`
		CallID string `json:"call_id"`
		ID     string `json:"_id"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return CreateCallResult{}, malformed(op, body, err)
	}
	id := env.CallID
	if env.Response != nil && env.Response.CallID != "" {
		id = env.Response.CallID
	}
	if id == "" {
		id = env.ID
	}
	if id == "" {
		return CreateCallResult{}, malformed(op, body, errors.New("no call_id in response"))
	}
	return CreateCallResult{ProviderCallID: id}, nil
}

func (p *SynthflowProvider) GetStatus(ctx context.Context, providerCallID string) (StatusResult, error) {
	rec, err := p.fetchCall(ctx, "get_status", providerCallID)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{RawStatus: rec.status(), DurationSeconds: rec.duration()}, nil
}

func (p *SynthflowProvider) GetTranscript(ctx context.Context, providerCallID string) (TranscriptResult, error) {
	rec, err := p.fetchCall(ctx, "get_transcript", providerCallID)
	if err != nil {
		return TranscriptResult{}, err
	}
	return TranscriptResult{Text: rec.transcript()}, nil
}

// callRecord is the subset of a Synthflow call we read. Field types vary
// between API revisions, so the loose ones stay raw.
type callRecord struct {
	Status     string          `json:"status"`
	CallStatus string          `json:"call_status"`
	Duration   json.RawMessage `json:"duration"`
	Transcript json.RawMessage `json:"transcript"`
}

func (r callRecord) status() string {
	if r.CallStatus != "" {
		return r.CallStatus
	}
	return r.Status
}

func (r callRecord) duration() *int {
	if len(r.Duration) == 0 {
		return nil
	}
	var f float64
	if err := json.Unmarshal(r.Duration, &f); err != nil {
		var s string
		if json.Unmarshal(r.Duration, &s) != nil {
			return nil
		}
		if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
			return nil
		}
	}
	d := int(math.Round(f))
	return &d
}

func (r callRecord) transcript() string {
	if len(r.Transcript) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Transcript, &s); err == nil {
		return s
	}
	var turns []struct {
		Role    string `json:"role"`
		Message string `json:"message"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(r.Transcript, &turns); err != nil {
		return ""
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		text := t.Message
		if text == "" {
			text = t.Text
		}
		if text == "" {
			continue
		}
		if t.Role != "" {
			text = t.Role + ": " + text
		}
		lines = append(lines, text)
	}
	return strings.Join(lines, "\n")
}

// fetchCall reads GET /calls/{id}. The record may sit at response.calls[0],
// directly under response, or at the top level.
func (p *SynthflowProvider) fetchCall(ctx context.Context, op, providerCallID string) (callRecord, error) {
	if strings.TrimSpace(providerCallID) == "" {
		return callRecord{}, &ProviderError{Op: op, Kind: KindNotFound, Err: errors.New("empty provider call id")}
	}
	body, err := p.do(ctx, op, http.MethodGet, "/calls/"+url.PathEscape(providerCallID), nil)
	if err != nil {
		return callRecord{}, err
	}

	var env struct {
		Status   string          `json:"status"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return callRecord{}, malformed(op, body, err)
	}

	if len(env.Response) == 0 || string(env.Response) == "null" {
		var rec callRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return callRecord{}, malformed(op, body, err)
		}
		if rec.status() == "" || rec.status() == "ok" {
			return callRecord{}, malformed(op, body, errors.New("no call status in response"))
		}
		return rec, nil
	}

	var inner struct {
		Calls []callRecord `json:"calls"`
		callRecord
	}
	if err := json.Unmarshal(env.Response, &inner); err != nil {
		return callRecord{}, malformed(op, body, err)
	}
	if len(inner.Calls) > 0 {
		return inner.Calls[0], nil
	}
	if inner.Calls != nil {
		return callRecord{}, &ProviderError{Op: op, Kind: KindNotFound, Body: trimBody(body)}
	}
	if inner.status() == "" {
		return callRecord{}, malformed(op, body, errors.New("no call status in response"))
	}
	return inner.callRecord, nil
}

func (p *SynthflowProvider) do(ctx context.Context, op, method, path string, in any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("telephony: encode %s: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("telephony: build %s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Op: op, Kind: KindUnavailable, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &ProviderError{Op: op, Kind: KindUnavailable, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{
			Op:         op,
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       trimBody(raw),
		}
	}
	return raw, nil
}

func malformed(op string, body []byte, err error) error {
	return &ProviderError{Op: op, Kind: KindMalformedResponse, Body: trimBody(body), Err: err}
}
