package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8090/")
	if c.baseURL != "http://localhost:8090" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}

func TestListRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/v1/runs" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("dataset") != "reviews.csv" || q.Get("converged") != "true" || q.Get("limit") != "5" || q.Get("since") != "24h0m0s" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]Run{{ID: "r1", Converged: true, Reviewers: 3}})
	}))
	defer srv.Close()

	runs, err := NewClient(srv.URL).ListRuns(context.Background(), ListOptions{
		Dataset:       "reviews.csv",
		OnlyConverged: true,
		Since:         24 * time.Hour,
		Limit:         5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "r1" || runs[0].Reviewers != 3 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestTopReviewers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/runs/r 1/reviewers" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "2" {
			t.Errorf("limit = %s", r.URL.Query().Get("limit"))
		}
		_ = json.NewEncoder(w).Encode([]ReviewerScore{{Name: "bob", Score: 0.9, Reviews: 1}})
	}))
	defer srv.Close()

	scores, err := NewClient(srv.URL).TopReviewers(context.Background(), "r 1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 1 || scores[0].Name != "bob" {
		t.Errorf("scores = %+v", scores)
	}
}

func TestNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "run not found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "run not found" {
		t.Errorf("err = %#v", err)
	}
}

func TestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
		t.Fatalf("err = %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("500 must not match ErrNotFound")
	}
}

func TestHealthAndLatest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	})
	mux.HandleFunc("GET /v1/runs/latest", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Run{ID: "newest"})
	})
	mux.HandleFunc("GET /v1/runs/{id}/products", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ProductSummary{{Name: "p1", Summary: 0.5}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	h, err := c.Health(context.Background())
	if err != nil || h.Status != "ok" {
		t.Fatalf("health = %+v, %v", h, err)
	}
	run, err := c.LatestRun(context.Background())
	if err != nil || run.ID != "newest" {
		t.Fatalf("latest = %+v, %v", run, err)
	}
	sums, err := c.ProductSummaries(context.Background(), "newest")
	if err != nil || len(sums) != 1 {
		t.Fatalf("products = %+v, %v", sums, err)
	}
}
