package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/strandlabs/strand/internal/tools"
)

// Overridable for tests.
var (
	geocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	forecastURL = "https://api.open-meteo.com/v1/forecast"
)

var weatherCodes = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Foggy",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	61: "Slight rain",
	63: "Moderate rain",
	65: "Heavy rain",
	71: "Slight snow",
	73: "Moderate snow",
	75: "Heavy snow",
	80: "Slight rain showers",
	81: "Moderate rain showers",
	82: "Violent rain showers",
	95: "Thunderstorm",
	96: "Thunderstorm with slight hail",
	99: "Thunderstorm with heavy hail",
}

type weatherArgs struct {
	Location string `json:"location" jsonschema:"description=The city and optionally country"`
	Units    string `json:"units,omitempty" jsonschema:"enum=celsius,enum=fahrenheit,description=Temperature units. Defaults to celsius."`
}

type geocodeResult struct {
	Results []struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Country   string  `json:"country"`
	} `json:"results"`
}

type forecastResult struct {
	Current struct {
		Temperature   *float64 `json:"temperature_2m"`
		ApparentTemp  *float64 `json:"apparent_temperature"`
		Humidity      *float64 `json:"relative_humidity_2m"`
		Precipitation float64  `json:"precipitation"`
		WeatherCode   int      `json:"weather_code"`
		WindSpeed     *float64 `json:"wind_speed_10m"`
	} `json:"current"`
}

// NewGetWeather returns the get_weather tool, backed by open-meteo's
// public geocoding and forecast APIs.
func NewGetWeather() tools.Definition {
	client := &http.Client{Timeout: 15 * time.Second}
	return tools.Definition{
		Name:        "get_weather",
		Description: "Get the current weather for a location. Returns temperature, conditions, humidity, and wind speed.",
		Parameters:  mustSchema(&weatherArgs{}),
		Kind:        tools.KindLocal,
		Local: &tools.LocalTool{Handler: tools.Handler{
			Sync: func(ctx context.Context, args map[string]any) (string, error) {
				return getWeather(ctx, client, stringArg(args, "location"), stringArg(args, "units"))
			},
		}},
	}
}

func getWeather(ctx context.Context, client *http.Client, location, units string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("location is required")
	}

	var geo geocodeResult
	params := url.Values{
		"name":     {location},
		"count":    {"1"},
		"language": {"en"},
		"format":   {"json"},
	}
	if err := getJSON(ctx, client, geocodeURL+"?"+params.Encode(), &geo); err != nil {
		return "", fmt.Errorf("geocoding %q: %w", location, err)
	}
	if len(geo.Results) == 0 {
		return fmt.Sprintf("Could not find location: %s", location), nil
	}
	place := geo.Results[0]

	tempUnit := "celsius"
	symbol := "°C"
	if strings.EqualFold(units, "fahrenheit") {
		tempUnit = "fahrenheit"
		symbol = "°F"
	}

	var fc forecastResult
	params = url.Values{
		"latitude":         {fmt.Sprintf("%g", place.Latitude)},
		"longitude":        {fmt.Sprintf("%g", place.Longitude)},
		"current":          {"temperature_2m,relative_humidity_2m,apparent_temperature,precipitation,weather_code,wind_speed_10m"},
		"temperature_unit": {tempUnit},
		"wind_speed_unit":  {"mph"},
		"timezone":         {"auto"},
	}
	if err := getJSON(ctx, client, forecastURL+"?"+params.Encode(), &fc); err != nil {
		return "", fmt.Errorf("fetching forecast: %w", err)
	}

	cur := fc.Current
	condition, ok := weatherCodes[cur.WeatherCode]
	if !ok {
		condition = "Unknown"
	}
	return fmt.Sprintf(
		"Weather in %s, %s:\n"+
			"• Condition: %s\n"+
			"• Temperature: %s%s (feels like %s%s)\n"+
			"• Humidity: %s%%\n"+
			"• Wind: %s mph\n"+
			"• Precipitation: %g mm",
		place.Name, place.Country,
		condition,
		numOrNA(cur.Temperature), symbol, numOrNA(cur.ApparentTemp), symbol,
		numOrNA(cur.Humidity),
		numOrNA(cur.WindSpeed),
		cur.Precipitation,
	), nil
}

func numOrNA(f *float64) string {
	if f == nil {
		return "N/A"
	}
	return fmt.Sprintf("%g", *f)
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
