// Package assemble invokes an OpenAI-compatible chat-completions endpoint
// to turn normalized source material into a publishable article draft.
//
// Assembler calls are treated like any other unreliable network call, with
// one difference: generation latency is inherently higher than I/O latency,
// so the assembler carries its own (longer) timeout and the assemble stage
// its own retry policy.
package assemble

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

	"github.com/quillpress/quill/internal/extract"
)

var (
	// ErrModelUnavailable marks transient provider failures (5xx,
	// transport errors, timeouts). Retryable.
	ErrModelUnavailable = errors.New("assemble: model unavailable")

	// ErrQuotaExceeded marks provider rate/quota limiting (429).
	// Retryable; the assemble policy carries the longer backoff.
	ErrQuotaExceeded = errors.New("assemble: quota exceeded")

	// ErrInvalidOutput marks a response the assembler cannot use: auth or
	// validation rejections, empty choices, malformed draft JSON. Terminal.
	ErrInvalidOutput = errors.New("assemble: invalid output")
)

// TargetSpec describes the intended article: who it is for and how it
// should read.
type TargetSpec struct {
	Audience string `yaml:"audience"`
	Style    string `yaml:"style"`
	MaxWords int    `yaml:"max_words"`
}

// Draft is the assembled article: text plus suggested media and tags.
// Versions of a draft are archived as immutable artifacts; the item record
// points at the current one.
type Draft struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Body    string   `json:"body"`
	Tags    []string `json:"tags,omitempty"`
	Images  []string `json:"images,omitempty"`
}

// Assembler is a chat-completions client for OpenAI-compatible APIs.
type Assembler struct {
	endpoint   string
	model      string
	apiKey     string
	target     TargetSpec
	httpClient *http.Client
}

// NewAssembler builds an assembler. timeout bounds one completion call and
// should be generous; generation is slow.
func NewAssembler(endpoint, model, apiKey string, target TargetSpec, timeout time.Duration) *Assembler {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Assembler{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		target:   target,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

const systemPrompt = "You are an editor who assembles source material into publishable articles. Respond only with JSON."

// Assemble produces an article draft from normalized content.
func (a *Assembler) Assemble(ctx context.Context, normalized *extract.Normalized) (*Draft, error) {
	if a.apiKey == "" || a.endpoint == "" || a.model == "" {
		return nil, fmt.Errorf("%w: assembler misconfigured", ErrInvalidOutput)
	}

	body, err := json.Marshal(map[string]any{
		"model": a.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": a.buildPrompt(normalized)},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parse
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: provider returned %s", ErrQuotaExceeded, resp.Status)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: provider returned %s", ErrModelUnavailable, resp.Status)
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: provider returned %s: %s", ErrInvalidOutput, resp.Status, strings.TrimSpace(string(detail)))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("%w: decode completion: %v", ErrInvalidOutput, err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: completion has no content", ErrInvalidOutput)
	}

	var draft Draft
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &draft); err != nil {
		return nil, fmt.Errorf("%w: draft is not valid JSON: %v", ErrInvalidOutput, err)
	}
	if draft.Title == "" || draft.Body == "" {
		return nil, fmt.Errorf("%w: draft missing title or body", ErrInvalidOutput)
	}

	if len(draft.Images) == 0 && normalized.PrimaryImage != "" {
		draft.Images = []string{normalized.PrimaryImage}
	}

	return &draft, nil
}

// buildPrompt renders the user message: the target spec plus the source
// material, asking for the draft JSON shape.
func (a *Assembler) buildPrompt(normalized *extract.Normalized) string {
	var sb strings.Builder

	sb.WriteString("Assemble the source material below into an article draft.\n")
	if a.target.Audience != "" {
		fmt.Fprintf(&sb, "Audience: %s.\n", a.target.Audience)
	}
	if a.target.Style != "" {
		fmt.Fprintf(&sb, "Style: %s.\n", a.target.Style)
	}
	if a.target.MaxWords > 0 {
		fmt.Fprintf(&sb, "Keep the body under %d words.\n", a.target.MaxWords)
	}
	sb.WriteString("Generate tags in the same language as the content.\n")
	sb.WriteString(`Return JSON: {"title": "...", "summary": "...", "body": "...", "tags": ["..."]}` + "\n")

	sb.WriteString("\n---\n")
	fmt.Fprintf(&sb, "Title: %s\n", normalized.Title)
	if normalized.Byline != "" {
		fmt.Fprintf(&sb, "Byline: %s\n", normalized.Byline)
	}
	fmt.Fprintf(&sb, "Source: %s\n\n", normalized.SourceRef)
	sb.WriteString(normalized.Text)

	return sb.String()
}
