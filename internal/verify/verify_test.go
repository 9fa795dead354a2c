package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPVerifierRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer vtok" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		var sub Submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			t.Errorf("decode: %v", err)
		}
		if sub.Day != 4 || sub.MediaURL == "" {
			t.Errorf("submission = %+v", sub)
		}
		json.NewEncoder(w).Encode(Result{Confidence: 0.91})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, "vtok", time.Second)
	res, err := v.Evaluate(context.Background(), Submission{
		CourseID: "c1", UserID: "u1", Day: 4, MediaURL: "https://media.example.com/p.jpg",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Confidence != 0.91 {
		t.Fatalf("confidence = %v", res.Confidence)
	}
}

func TestHTTPVerifierRejectsOutOfRangeConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"confidence": 3.5}`))
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, "", time.Second)
	_, err := v.Evaluate(context.Background(), Submission{MediaURL: "x"})
	if err == nil {
		t.Fatal("want error for out-of-range confidence")
	}
}

func TestHTTPVerifierRequiresMedia(t *testing.T) {
	v := NewHTTPVerifier("http://127.0.0.1:1", "", time.Second)
	if _, err := v.Evaluate(context.Background(), Submission{}); err == nil {
		t.Fatal("want error for missing media url")
	}
}

func TestStaticVerifier(t *testing.T) {
	v := StaticVerifier{Confidence: 0.4, Reason: "blurry"}
	res, err := v.Evaluate(context.Background(), Submission{MediaURL: "x"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Confidence != 0.4 || res.Reason != "blurry" {
		t.Fatalf("result = %+v", res)
	}
}
