// Package rewrite asks a hosted language model to rephrase a text selection.
package rewrite

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

	"github.com/docedit/docedit/internal/config"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

var ErrEmptyResponse = errors.New("rewrite: upstream returned no text")

// Attributes steer the rewrite. Every field is optional.
type Attributes struct {
	Tone   string `json:"tone,omitempty" validate:"omitempty,oneof=humorous serious professional casual"`
	Style  string `json:"style,omitempty" validate:"omitempty,oneof=descriptive concise technical narrative"`
	Pacing string `json:"pacing,omitempty" validate:"omitempty,oneof=fast moderate slow"`
}

type Request struct {
	Text       string     `json:"text" validate:"required"`
	Attributes Attributes `json:"attributes"`
}

type Response struct {
	RewrittenText string `json:"rewrittenText"`
}

var validate = validator.New()

// Validate checks the request and returns one message per problem.
func (r Request) Validate() []string {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out = append(out, "Text is required")
		case "oneof":
			out = append(out, fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", ")))
		default:
			out = append(out, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return out
}

// Rewriter produces the rewritten text for a request.
type Rewriter interface {
	Rewrite(ctx context.Context, req Request) (string, error)
}

// UpstreamError is a non-2xx answer from the model endpoint.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("rewrite upstream: status %d: %s", e.Status, e.Body)
}

// Gemini calls the generateContent endpoint of the Gemini API.
type Gemini struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewGemini returns nil when no API key is configured.
func NewGemini(cfg config.RewriteConfig) *Gemini {
	if cfg.APIKey == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 2
	}
	return &Gemini{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Prompt renders the instruction sent to the model.
func Prompt(req Request) string {
	var b strings.Builder
	b.WriteString("Rewrite the following text")
	var wants []string
	if a := req.Attributes.Tone; a != "" {
		wants = append(wants, "a "+a+" tone")
	}
	if a := req.Attributes.Style; a != "" {
		wants = append(wants, "a "+a+" style")
	}
	if a := req.Attributes.Pacing; a != "" {
		wants = append(wants, a+" pacing")
	}
	if len(wants) > 0 {
		b.WriteString(" with ")
		b.WriteString(strings.Join(wants, " and "))
	}
	b.WriteString(". Reply with the rewritten text only.\n\n")
	b.WriteString(req.Text)
	return b.String()
}

func (g *Gemini) Rewrite(ctx context.Context, req Request) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rewrite: %w", err)
	}
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{{Text: Prompt(req)}}}}})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", g.endpoint, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("rewrite upstream: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("rewrite upstream: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("rewrite upstream: decode: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
