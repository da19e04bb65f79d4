package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
)

func TestWebhookProviderDeliverSuccess(t *testing.T) {
	t.Parallel()

	var gotBody webhookRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("X-Request-ID", "hook-1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	p, err := NewWebhookProvider(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookProvider() error = %v", err)
	}

	item := testItem()
	result, err := p.Deliver(context.Background(), item)
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}

	if !result.Success {
		t.Fatal("Success = false, want true")
	}
	if result.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", result.StatusCode, http.StatusAccepted)
	}
	if result.Reference != "hook-1" {
		t.Fatalf("Reference = %q, want %q", result.Reference, "hook-1")
	}

	if gotBody.ItemID != item.ID || gotBody.BatchID != item.BatchID || gotBody.RowNumber != item.RowNumber {
		t.Fatalf("request identity = %+v, want item %d of batch %s row %d", gotBody, item.ID, item.BatchID, item.RowNumber)
	}
	if gotBody.Phone != item.Phone {
		t.Fatalf("request.phone = %q, want %q", gotBody.Phone, item.Phone)
	}
	if gotBody.Amount != "12.50" {
		t.Fatalf("request.amount = %q, want %q", gotBody.Amount, "12.50")
	}
}

func TestWebhookProviderDeliverStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("hook failed"))
			}))
			defer server.Close()

			p, err := NewWebhookProvider(server.URL)
			if err != nil {
				t.Fatalf("NewWebhookProvider() error = %v", err)
			}

			_, err = p.Deliver(context.Background(), testItem())
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tc.statusCode {
				t.Fatalf("ProviderError.StatusCode = %d, want %d", providerErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestWebhookProviderDeliverTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	p, err := NewWebhookProviderWithClient(server.URL, client)
	if err != nil {
		t.Fatalf("NewWebhookProviderWithClient() error = %v", err)
	}

	_, err = p.Deliver(context.Background(), testItem())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestWebhookProviderRejectsInvalidItem(t *testing.T) {
	t.Parallel()

	p, err := NewWebhookProvider("http://127.0.0.1:1/hook")
	if err != nil {
		t.Fatalf("NewWebhookProvider() error = %v", err)
	}

	item := testItem()
	item.Phone = ""

	_, err = p.Deliver(context.Background(), item)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if IsTransient(err) {
		t.Fatal("invalid item must not be transient")
	}
}

func TestNewWebhookProviderValidatesEndpoint(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"", "   ", "not a url"} {
		if _, err := NewWebhookProvider(endpoint); err == nil {
			t.Fatalf("NewWebhookProvider(%q) expected error", endpoint)
		}
	}
}

func TestWebhookErrorMessageKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty body", body: "", want: "webhook returned status 500"},
		{name: "short body", body: "down", want: "webhook returned status 500: down"},
		{
			name: "rune across the limit",
			body: strings.Repeat("a", 199) + "€ service down",
			want: "webhook returned status 500: " + strings.Repeat("a", 199),
		},
		{
			name: "rune ending at the limit",
			body: strings.Repeat("a", 197) + "€ service down",
			want: "webhook returned status 500: " + strings.Repeat("a", 197) + "€",
		},
		{name: "invalid bytes", body: "bad\xff\xfegateway", want: "webhook returned status 500: badgateway"},
	}

	for _, tt := range tests {
		got := webhookErrorMessage(http.StatusInternalServerError, tt.body)
		if !utf8.ValidString(got) {
			t.Fatalf("%s: message %q is not valid UTF-8", tt.name, got)
		}
		if got != tt.want {
			t.Fatalf("%s: message = %q, want %q", tt.name, got, tt.want)
		}
	}
}
