package bankfeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

func testCreds() models.FeedCredentials {
	return models.FeedCredentials{
		TenantID:      "tenant-1",
		AccountNumber: "0123456789",
		AccessCode:    "access-code",
		AccessToken:   "access-token",
		Cookie:        "session=abc",
	}
}

func fastConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
		MaxAttempts:    3,
		AttemptDelay:   10 * time.Millisecond,
	}
}

func TestFetch_ParsesStatement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("bad form: %v", err)
		}
		if r.PostForm.Get("operation") != "STMT_INQUIRY" {
			t.Errorf("expected STMT_INQUIRY operation, got %q", r.PostForm.Get("operation"))
		}
		if r.PostForm.Get("accountNumber") != "0123456789" {
			t.Errorf("missing account number")
		}
		if r.Header.Get("X-Access-Code") != "access-code" {
			t.Errorf("missing access code header")
		}
		if r.Header.Get("Authorization") != "Bearer access-token" {
			t.Errorf("missing bearer token")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"resultCode": "00",
			"transactionHistoryList": [
				{"refNo": "FT111", "description": "NGUYEN VAN A ck", "creditAmount": "50000", "transactionDate": "2026-08-30 12:00:00"},
				{"refNo": "FT112", "description": "rut tien", "debitAmount": "20000", "transactionDate": "2026-08-30 12:01:00"}
			]
		}`))
	}))
	defer srv.Close()

	client := NewClient(fastConfig(srv.URL), logging.NewLogger())
	resp, err := client.Fetch(context.Background(), testCreds())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Entries))
	}
	if !resp.Entries[0].IsCredit() {
		t.Fatal("first entry should be a credit")
	}
	if resp.Entries[1].IsCredit() {
		t.Fatal("debit entry should not classify as credit")
	}
	want := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if !resp.Entries[0].ParsedDate().Equal(want) {
		t.Fatalf("unexpected parsed date: %v", resp.Entries[0].ParsedDate())
	}
}

func TestFetch_RetriesConnectionFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			// Drop the connection without a response.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("server does not support hijacking")
				return
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`{"resultCode": "00", "transactionHistoryList": []}`))
	}))
	defer srv.Close()

	client := NewClient(fastConfig(srv.URL), logging.NewLogger())
	resp, err := client.Fetch(context.Background(), testCreds())
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if resp.ResultCode != "00" {
		t.Fatalf("unexpected result code %q", resp.ResultCode)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestFetch_UnavailableAfterExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	client := NewClient(fastConfig(srv.URL), logging.NewLogger())
	_, err := client.Fetch(context.Background(), testCreds())
	if !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("expected ErrFeedUnavailable, got %v", err)
	}
}

func TestFetch_HTTPErrorFailsFast(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(fastConfig(srv.URL), logging.NewLogger())
	_, err := client.Fetch(context.Background(), testCreds())
	if !errors.Is(err, ErrFeedRejected) {
		t.Fatalf("expected ErrFeedRejected, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("provider rejections must not retry, got %d attempts", got)
	}
}

func TestFetch_MalformedBodyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewClient(fastConfig(srv.URL), logging.NewLogger())
	_, err := client.Fetch(context.Background(), testCreds())
	if !errors.Is(err, ErrFeedRejected) {
		t.Fatalf("expected ErrFeedRejected on malformed body, got %v", err)
	}
}

func TestParsedDate_MalformedFallsBackToNow(t *testing.T) {
	entry := StatementEntry{TransactionDate: "yesterday"}
	if time.Since(entry.ParsedDate()) > time.Minute {
		t.Fatal("malformed date should fall back to roughly now")
	}
}
