// ABOUTME: Weather lookup tool backed by the Open-Meteo public API
// ABOUTME: Geocodes a location name then fetches current conditions

package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

const (
	geocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	forecastURL  = "https://api.open-meteo.com/v1/forecast"
)

// WeatherTool resolves a location name to coordinates and returns current
// weather conditions.
type WeatherTool struct {
	client *http.Client
}

// NewWeatherTool creates the weather tool. Pass nil to use the default
// HTTP client.
func NewWeatherTool(client *http.Client) *WeatherTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &WeatherTool{client: client}
}

func (t *WeatherTool) Name() string { return NameGetWeather }

func (t *WeatherTool) Description() string {
	return "Get the current weather for a location. Use for any question about weather conditions or temperature."
}

func (t *WeatherTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"location": {"type": "string", "description": "City or place name, e.g. Paris"}
		},
		"required": ["location"]
	}`)
}

type weatherArgs struct {
	Location string `json:"location"`
}

type geocodingResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
		WeatherCode int     `json:"weathercode"`
	} `json:"current_weather"`
}

// Execute looks up current weather for the requested location.
func (t *WeatherTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var req weatherArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("parsing weather args: %w", err)
	}
	if req.Location == "" {
		return nil, errors.New("location is required")
	}

	var geo geocodingResponse
	query := url.Values{"name": {req.Location}, "count": {"1"}}
	if err := t.getJSON(ctx, geocodingURL+"?"+query.Encode(), &geo); err != nil {
		return nil, fmt.Errorf("geocoding %q: %w", req.Location, err)
	}
	if len(geo.Results) == 0 {
		return nil, fmt.Errorf("location not found: %s", req.Location)
	}
	place := geo.Results[0]

	var forecast forecastResponse
	query = url.Values{
		"latitude":        {fmt.Sprintf("%.4f", place.Latitude)},
		"longitude":       {fmt.Sprintf("%.4f", place.Longitude)},
		"current_weather": {"true"},
	}
	if err := t.getJSON(ctx, forecastURL+"?"+query.Encode(), &forecast); err != nil {
		return nil, fmt.Errorf("fetching forecast: %w", err)
	}

	result, err := json.Marshal(map[string]any{
		"location":    place.Name,
		"country":     place.Country,
		"temp":        forecast.CurrentWeather.Temperature,
		"windspeed":   forecast.CurrentWeather.WindSpeed,
		"weathercode": forecast.CurrentWeather.WeatherCode,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding weather result: %w", err)
	}
	return result, nil
}

// getJSON performs a GET request and decodes the JSON body into out.
func (t *WeatherTool) getJSON(ctx context.Context, rawURL string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
