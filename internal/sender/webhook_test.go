package sender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/safetyhub/escalation-engine/internal/domain"
)

func TestWebhookSenderSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody webhookRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("X-Message-ID", "gateway-msg-1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	s, err := NewWebhookSender(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookSender() error = %v", err)
	}

	result, err := s.Send(context.Background(), domain.ChannelSMS, "+15551112233", "Incident inc-1", "severity raised")
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if !result.Accepted {
		t.Fatal("Accepted = false, want true")
	}
	if result.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", result.StatusCode, http.StatusAccepted)
	}
	if result.ProviderMessageID != "gateway-msg-1" {
		t.Fatalf("ProviderMessageID = %q, want %q", result.ProviderMessageID, "gateway-msg-1")
	}

	if gotBody.To != "+15551112233" {
		t.Fatalf("request.to = %q, want %q", gotBody.To, "+15551112233")
	}
	if gotBody.Channel != "sms" {
		t.Fatalf("request.channel = %q, want %q", gotBody.Channel, "sms")
	}
	if gotBody.Subject != "Incident inc-1" {
		t.Fatalf("request.subject = %q, want %q", gotBody.Subject, "Incident inc-1")
	}
	if gotBody.Content != "severity raised" {
		t.Fatalf("request.content = %q, want %q", gotBody.Content, "severity raised")
	}
}

func TestWebhookSenderSendStatusClassification(t *testing.T) {
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
				_, _ = w.Write([]byte("gateway failed"))
			}))
			defer server.Close()

			s, err := NewWebhookSender(server.URL)
			if err != nil {
				t.Fatalf("NewWebhookSender() error = %v", err)
			}

			_, err = s.Send(context.Background(), domain.ChannelSMS, "+15551112233", "", "hello")
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var sendErr *Error
			if !errors.As(err, &sendErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if sendErr.StatusCode != tc.statusCode {
				t.Fatalf("Error.StatusCode = %d, want %d", sendErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestWebhookSenderSendTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	s, err := NewWebhookSenderWithClient(server.URL, client)
	if err != nil {
		t.Fatalf("NewWebhookSenderWithClient() error = %v", err)
	}

	_, err = s.Send(context.Background(), domain.ChannelSMS, "+15551112233", "", "hello")
	if err == nil {
		t.Fatal("expected timeout error")
	}

	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestWebhookSenderSendEmptyContact(t *testing.T) {
	t.Parallel()

	s, err := NewWebhookSender("http://gateway.local/send")
	if err != nil {
		t.Fatalf("NewWebhookSender() error = %v", err)
	}

	_, err = s.Send(context.Background(), domain.ChannelEmail, "  ", "", "hello")
	if err == nil {
		t.Fatal("expected error for empty contact")
	}
	if IsTransient(err) {
		t.Fatal("empty contact must not be transient")
	}
}

func TestNewWebhookSenderRejectsBadEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewWebhookSender(""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewWebhookSender("not a url"); err == nil {
		t.Fatal("expected error for malformed endpoint")
	}
}
