package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	dErrors "gatehouse/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "server-error" {
			t.Fatalf("expected error code server-error, got %q", body["error"])
		}
		if _, ok := body["message"]; ok {
			t.Fatalf("expected message to be omitted for unclassified errors")
		}
	})

	t.Run("client error includes message", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeReferrerCheckFail, "referrer not allowed for this key"))

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "referrer-check-fail" {
			t.Fatalf("expected error code referrer-check-fail, got %q", body["error"])
		}
		if body["message"] != "referrer not allowed for this key" {
			t.Fatalf("expected message to be returned for client errors")
		}
	})
}

func TestLogAndWriteError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	w := httptest.NewRecorder()

	n := LogAndWriteError(context.Background(), w, logger, errors.New("secret upstream body"))

	if n.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", n.Status)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("secret upstream body")) {
		t.Fatalf("internal detail leaked to the response body")
	}
	if !bytes.Contains(logs.Bytes(), []byte("secret upstream body")) {
		t.Fatalf("expected internal detail in server log")
	}
}
