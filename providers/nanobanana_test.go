package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/mediadesk/mediadesk/fields"
)

func TestNanoBananaSubmit(t *testing.T) {
	imageBytes := []byte("png-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-genai-key" {
			t.Errorf("missing api key header")
		}
		var req genaiGenerateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
			t.Errorf("expected prompt plus one reference part, got %+v", req.Contents)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{{
				"content": map[string]interface{}{
					"parts": []map[string]interface{}{
						{"text": "here you go"},
						{"inlineData": map[string]string{
							"mimeType": "image/png",
							"data":     base64.StdEncoding.EncodeToString(imageBytes),
						}},
					},
				},
			}},
		})
	}))
	defer srv.Close()

	cfg := newTestConfig()
	cfg.GenaiBaseURL = srv.URL
	store := newTestStore(t)
	provider := NewNanoBanana(cfg, newTestLogger(), store)

	job := fields.NewGenerationJob(1, fields.KindImage, "a banana on the moon", "")
	refs := []fields.ReferenceImage{{JobID: job.ID, Data: base64.StdEncoding.EncodeToString([]byte("ref")), MimeType: "image/jpeg"}}

	sub, err := provider.Submit(context.Background(), job, refs)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !sub.Done || sub.Progress != 100 {
		t.Fatalf("expected synchronous completion, got %+v", sub)
	}
	f, err := store.Open(sub.ResultURL)
	if err != nil {
		t.Fatalf("open result: %v", err)
	}
	defer f.Close()
	got, _ := io.ReadAll(f)
	if string(got) != string(imageBytes) {
		t.Fatalf("stored %q", got)
	}
}

func TestNanoBananaSubmitBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": [], "promptFeedback": {"blockReason": "SAFETY"}}`))
	}))
	defer srv.Close()

	cfg := newTestConfig()
	cfg.GenaiBaseURL = srv.URL
	provider := NewNanoBanana(cfg, newTestLogger(), newTestStore(t))

	job := fields.NewGenerationJob(1, fields.KindImage, "something blocked", "")
	_, err := provider.Submit(context.Background(), job, nil)
	if !errors.Is(err, ErrJobFailed) {
		t.Fatalf("expected a permanent failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "SAFETY") {
		t.Fatalf("error %q lost the block reason", err)
	}
}

func TestNanoBananaSubmitVendorDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := newTestConfig()
	cfg.GenaiBaseURL = srv.URL
	provider := NewNanoBanana(cfg, newTestLogger(), newTestStore(t))

	job := fields.NewGenerationJob(1, fields.KindImage, "anything", "")
	_, err := provider.Submit(context.Background(), job, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrJobFailed) {
		t.Fatalf("a 5xx must stay transient, got %v", err)
	}
}
