package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"server/internal/domain"
)

// notFoundCode is the upstream error code for an unresolvable location.
const notFoundCode = 1006

// Options configures the weather HTTP client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Client fetches current conditions from a weatherapi-compatible endpoint.
// Calls run through a circuit breaker so a flapping upstream does not tie up
// request workers for the full timeout on every call.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient constructs a weather client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "weather-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		breaker:    breaker,
	}
}

type currentResponse struct {
	Current struct {
		TempC     float64 `json:"temp_c"`
		TempF     float64 `json:"temp_f"`
		Humidity  int     `json:"humidity"`
		WindKph   float64 `json:"wind_kph"`
		IsDay     int     `json:"is_day"`
		Condition struct {
			Text string `json:"text"`
		} `json:"condition"`
	} `json:"current"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Fetch retrieves the current conditions for a city. An unresolvable
// location is fatal; transport and upstream availability problems are
// transient.
func (c *Client) Fetch(ctx context.Context, city, country string) (*domain.WeatherSnapshot, error) {
	query := city
	if country != "" {
		query = city + "," + country
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.fetchOnce(ctx, query)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.TransientGeneration(err, "weather service temporarily unavailable")
		}
		return nil, err
	}
	return result.(*domain.WeatherSnapshot), nil
}

func (c *Client) fetchOnce(ctx context.Context, query string) (*domain.WeatherSnapshot, error) {
	endpoint := fmt.Sprintf("%s/current.json?key=%s&q=%s", c.baseURL, url.QueryEscape(c.apiKey), url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.TransientGeneration(err, "build weather request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.TransientGeneration(err, "weather request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, domain.TransientGeneration(err, "read weather response")
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			if apiErr.Error.Code == notFoundCode || strings.Contains(strings.ToLower(apiErr.Error.Message), "no matching location") {
				return nil, domain.FatalGeneration("no matching location found for %q", query)
			}
			return nil, domain.TransientGeneration(nil, "weather api error: %s", apiErr.Error.Message)
		}
		return nil, domain.TransientGeneration(nil, "weather api status %d", resp.StatusCode)
	}

	var payload currentResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.TransientGeneration(err, "decode weather response")
	}

	condition := payload.Current.Condition.Text
	return &domain.WeatherSnapshot{
		Category:  CategoryFromCondition(condition),
		Condition: condition,
		TempC:     payload.Current.TempC,
		TempF:     payload.Current.TempF,
		Humidity:  payload.Current.Humidity,
		WindKph:   payload.Current.WindKph,
		IsDay:     payload.Current.IsDay == 1,
		FetchedAt: time.Now().UTC(),
	}, nil
}

var _ Provider = (*Client)(nil)
