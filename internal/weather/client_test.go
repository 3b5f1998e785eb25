package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"server/internal/domain"
)

func TestCategoryFromCondition(t *testing.T) {
	tests := []struct {
		text string
		want domain.WeatherCategory
	}{
		{"Sunny", domain.CategoryClear},
		{"Clear", domain.CategoryClear},
		{"Partly cloudy", domain.CategoryClouds},
		{"Overcast", domain.CategoryClouds},
		{"Light rain shower", domain.CategoryRain},
		{"Patchy light drizzle", domain.CategoryDrizzle},
		{"Thundery outbreaks possible", domain.CategoryThunderstorm},
		{"Moderate snow", domain.CategorySnow},
		{"Freezing fog", domain.CategoryMist},
		{"Haze", domain.CategoryMist},
		{"Sandstorm", domain.CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := CategoryFromCondition(tt.text); got != tt.want {
				t.Fatalf("CategoryFromCondition(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestFetchParsesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "Paris,France" {
			t.Errorf("q = %q", got)
		}
		w.Write([]byte(`{"current":{"temp_c":18.5,"temp_f":65.3,"humidity":72,"wind_kph":14.0,"is_day":1,"condition":{"text":"Light rain"}}}`))
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	snapshot, err := client.Fetch(context.Background(), "Paris", "France")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if snapshot.Category != domain.CategoryRain {
		t.Fatalf("Category = %q", snapshot.Category)
	}
	if snapshot.TempC != 18.5 || snapshot.Humidity != 72 || !snapshot.IsDay {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if snapshot.FetchedAt.IsZero() {
		t.Fatal("FetchedAt not set")
	}
}

func TestFetchLocationNotFoundIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := client.Fetch(context.Background(), "xyzzy123", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsFatalGeneration(err) {
		t.Fatalf("expected fatal classification, got %v", err)
	}
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := client.Fetch(context.Background(), "Paris", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsFatalGeneration(err) {
		t.Fatalf("server error should be transient, got fatal: %v", err)
	}
}
