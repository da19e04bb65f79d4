package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/batch-engine/internal/domain"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	ItemID    int64  `json:"itemId"`
	BatchID   string `json:"batchId"`
	RowNumber int    `json:"rowNumber"`
	Phone     string `json:"phone"`
	Amount    string `json:"amount"`
}

// WebhookProvider posts each item as JSON to an HTTP endpoint. Any 2xx answer
// counts as a successful delivery.
type WebhookProvider struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookProvider(endpoint string) (*WebhookProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookProviderWithClient(endpoint, client)
}

func NewWebhookProviderWithClient(endpoint string, client *resty.Client) (*WebhookProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookProvider{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *WebhookProvider) Deliver(ctx context.Context, item domain.Item) (*Result, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := item.Validate(); err != nil {
		return nil, PermanentError(0, "invalid item", err)
	}

	reqBody := webhookRequest{
		ItemID:    item.ID,
		BatchID:   item.BatchID,
		RowNumber: item.RowNumber,
		Phone:     item.Phone,
		Amount:    item.Amount.StringFixed(domain.AmountPlaces),
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, PermanentError(0, "webhook request canceled", err)
		}
		return nil, TransientError(0, "webhook request failed", err)
	}
	if response == nil {
		return nil, TransientError(0, "webhook returned empty response", nil)
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Result{
			Success:    true,
			Message:    fmt.Sprintf("Webhook: accepted (%d)", statusCode),
			StatusCode: statusCode,
			Reference:  webhookReference(response),
		}, nil
	}

	message := webhookErrorMessage(statusCode, responseBody)
	if isTransientHTTPStatus(statusCode) {
		return nil, TransientError(statusCode, message, nil)
	}
	return nil, PermanentError(statusCode, message, nil)
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func webhookErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("webhook returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, truncateUTF8(body, maxErrorBodyBytes))
}

const maxErrorBodyBytes = 200

// truncateUTF8 drops invalid sequences and cuts s to at most n bytes without
// splitting a rune.
func truncateUTF8(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func webhookReference(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
