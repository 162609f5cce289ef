package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"
)

func captureServer(t *testing.T, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDetokenizationAlert_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := captureServer(t, &got)

	n := New(srv.URL, log.Nop())
	err := n.DetokenizationAlert(context.Background(), "analyst@i4g.org", "EML", "self-approval attempt")
	if err != nil {
		t.Fatalf("DetokenizationAlert: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, reason, divider, context = 6 blocks
	if len(blocks) != 6 {
		t.Errorf("blocks count = %d, want 6", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "Detokenization") {
		t.Errorf("header text = %q, want to mention detokenization", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Error("header should carry the red circle")
	}

	raw, _ := json.Marshal(got)
	for _, want := range []string{"analyst@i4g.org", "EML", "self-approval attempt"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("payload missing %q", want)
		}
	}
}

func TestReviewEscalated_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := captureServer(t, &got)

	n := New(srv.URL, log.Nop())
	err := n.ReviewEscalated(context.Background(), "01JN123", "case-42", "high")
	if err != nil {
		t.Fatalf("ReviewEscalated: %v", err)
	}

	blocks := got["blocks"].([]any)
	// header, divider, fields, divider, context = 5 blocks
	if len(blocks) != 5 {
		t.Errorf("blocks count = %d, want 5", len(blocks))
	}

	raw, _ := json.Marshal(got)
	for _, want := range []string{"01JN123", "case-42", "high"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("payload missing %q", want)
		}
	}
}

func TestNotifier_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", log.Nop())
	if err := n.DetokenizationAlert(context.Background(), "a", "EML", "r"); err != nil {
		t.Fatalf("alert with empty URL should be no-op, got: %v", err)
	}
	if err := n.ReviewEscalated(context.Background(), "r1", "c1", "high"); err != nil {
		t.Fatalf("escalation with empty URL should be no-op, got: %v", err)
	}
}

func TestDetokenizationAlert_TruncatesLongReason(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := captureServer(t, &got)

	longReason := strings.Repeat("x", maxReasonLen*2)
	n := New(srv.URL, log.Nop())
	if err := n.DetokenizationAlert(context.Background(), "a", "EML", longReason); err != nil {
		t.Fatalf("DetokenizationAlert: %v", err)
	}

	blocks := got["blocks"].([]any)
	reasonSection := blocks[3].(map[string]any)
	text := reasonSection["text"].(map[string]any)["text"].(string)

	if len(text) > maxReasonLen+len("*Reason*\n\n") {
		t.Errorf("reason text length = %d, expected <= %d", len(text), maxReasonLen+len("*Reason*\n\n"))
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated reason to end with ...")
	}
}

func TestPriorityEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		priority string
		want     string
	}{
		{"high", "\U0001f534"},
		{"system", "\U0001f534"},
		{"HIGH", "\U0001f534"},
		{"medium", "\U0001f7e1"},
		{"low", "\U0001f7e2"},
		{"", "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(tt.priority, func(t *testing.T) {
			t.Parallel()
			if got := priorityEmoji(tt.priority); got != tt.want {
				t.Errorf("priorityEmoji(%q) = %q, want %q", tt.priority, got, tt.want)
			}
		})
	}
}

func FuzzAlertBuild(f *testing.F) {
	f.Add("analyst@i4g.org", "EML", "routine reveal for case follow-up")
	f.Add("", "", "")
	f.Add("<@U123> mention", "WLT", "*bold* _italic_ ~strike~")
	f.Add("actor\x00\x01\x02", "IPA\nline", "reason\ttab")
	f.Add(strings.Repeat("A", 5000), "PHN", strings.Repeat("x", 10000))

	f.Fuzz(func(t *testing.T, actor, prefix, reason string) {
		// Must not panic and must produce valid JSON regardless of input.
		msg := map[string]any{
			"blocks": []map[string]any{
				headerBlock("\U0001f534", "PII Detokenization Alert"),
				fieldsBlock(map[string]string{"Actor": actor, "Prefix": prefix}),
				textBlock("Reason", reason),
			},
		}
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("message not marshalable: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("message JSON does not round-trip: %v", err)
		}
	})
}

func TestPost_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	err := n.ReviewEscalated(context.Background(), "r1", "c1", "high")
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}
