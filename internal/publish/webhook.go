package publish

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quillpress/quill/internal/assemble"
	"github.com/quillpress/quill/pkg/ledger"
)

// WebhookAdapter publishes drafts as signed JSON POSTs to an arbitrary
// endpoint, for platforms fronted by a custom ingest service.
type WebhookAdapter struct {
	name   string
	url    string
	secret string
	client *http.Client
}

// NewWebhookAdapter builds the adapter. secret, when non-empty, is used to
// HMAC-sign request bodies (X-Quill-Signature header, hex SHA-256).
func NewWebhookAdapter(name, url, secret string, timeout time.Duration) *WebhookAdapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookAdapter{
		name:   name,
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the configured platform name.
func (w *WebhookAdapter) Name() string {
	return w.name
}

// webhookPayload is the wire shape posted to the endpoint.
type webhookPayload struct {
	ContentHash string   `json:"content_hash"`
	SourceRef   string   `json:"source_ref"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary,omitempty"`
	Body        string   `json:"body"`
	Tags        []string `json:"tags,omitempty"`
	Images      []string `json:"images,omitempty"`
}

// webhookReceipt is the expected response body on success.
type webhookReceipt struct {
	Ref string `json:"ref"`
	ID  string `json:"id"`
}

// Publish posts the draft and returns the receiver-assigned reference.
func (w *WebhookAdapter) Publish(ctx context.Context, item *ledger.ContentItem, draft *assemble.Draft) (string, error) {
	body, err := json.Marshal(webhookPayload{
		ContentHash: item.Hash,
		SourceRef:   item.SourceRef,
		Title:       draft.Title,
		Summary:     draft.Summary,
		Body:        draft.Body,
		Tags:        draft.Tags,
		Images:      draft.Images,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %v", ErrValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: new request: %v", ErrValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		mac := hmac.New(sha256.New, []byte(w.secret))
		mac.Write(body)
		req.Header.Set("X-Quill-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to read the receipt
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: webhook returned %s", ErrRateLimited, resp.Status)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: webhook returned %s", ErrAuth, resp.Status)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: webhook returned %s: %s", ErrValidation, resp.Status, strings.TrimSpace(string(detail)))
	default:
		return "", fmt.Errorf("%w: webhook returned %s", ErrPlatformUnavailable, resp.Status)
	}

	var receipt webhookReceipt
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&receipt); err != nil || (receipt.Ref == "" && receipt.ID == "") {
		// Receiver accepted the post but gave no usable reference; keep
		// the item hash so the outcome still carries an external id.
		return w.url + "#" + item.Hash, nil
	}
	if receipt.Ref != "" {
		return receipt.Ref, nil
	}
	return receipt.ID, nil
}
