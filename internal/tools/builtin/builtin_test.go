package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSchemasAreObjects(t *testing.T) {
	defs := []json.RawMessage{
		NewGetWeather().Parameters,
		NewCountSlowly().Parameters,
	}
	for _, d := range NewPlanner().Tools() {
		defs = append(defs, d.Parameters)
	}
	for i, raw := range defs {
		var schema struct {
			Type       string                     `json:"type"`
			Properties map[string]json.RawMessage `json:"properties"`
		}
		if err := json.Unmarshal(raw, &schema); err != nil {
			t.Fatalf("schema %d: %v", i, err)
		}
		if schema.Type != "object" {
			t.Fatalf("schema %d type = %q, want object", i, schema.Type)
		}
	}
}

func TestGetWeather(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if got := req.URL.Query().Get("name"); got != "Tokyo" {
			t.Errorf("geocode name = %q", got)
		}
		fmt.Fprint(w, `{"results":[{"latitude":35.7,"longitude":139.7,"name":"Tokyo","country":"Japan"}]}`)
	}))
	defer geo.Close()
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if got := req.URL.Query().Get("temperature_unit"); got != "celsius" {
			t.Errorf("temperature_unit = %q", got)
		}
		fmt.Fprint(w, `{"current":{"temperature_2m":21.5,"apparent_temperature":20.1,"relative_humidity_2m":60,"precipitation":0,"weather_code":2,"wind_speed_10m":4.5}}`)
	}))
	defer forecast.Close()

	oldGeo, oldFc := geocodeURL, forecastURL
	geocodeURL, forecastURL = geo.URL, forecast.URL
	defer func() { geocodeURL, forecastURL = oldGeo, oldFc }()

	out, err := getWeather(context.Background(), http.DefaultClient, "Tokyo", "")
	if err != nil {
		t.Fatalf("getWeather: %v", err)
	}
	for _, want := range []string{"Weather in Tokyo, Japan", "Partly cloudy", "21.5°C", "feels like 20.1°C", "60%", "4.5 mph"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGetWeatherUnknownLocation(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer geo.Close()

	old := geocodeURL
	geocodeURL = geo.URL
	defer func() { geocodeURL = old }()

	out, err := getWeather(context.Background(), http.DefaultClient, "Atlantis", "")
	if err != nil {
		t.Fatalf("getWeather: %v", err)
	}
	if out != "Could not find location: Atlantis" {
		t.Fatalf("out = %q", out)
	}
}

func TestCountSlowlyStreams(t *testing.T) {
	def := NewCountSlowly()
	deltas, err := def.Local.Handler.Stream(context.Background(), map[string]any{
		"count":         3.0,
		"delay_seconds": 0.001,
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var got []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case d, ok := <-deltas:
			if !ok {
				if strings.Join(got, "") != "1... 2... 3... Done!" {
					t.Fatalf("deltas = %v", got)
				}
				return
			}
			got = append(got, d)
		case <-timeout:
			t.Fatal("timed out waiting for count stream")
		}
	}
}

func TestCountSlowlyCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	def := NewCountSlowly()
	deltas, err := def.Local.Handler.Stream(ctx, map[string]any{"count": 100.0, "delay_seconds": 10.0})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	select {
	case _, ok := <-deltas:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func TestPlannerThoughtFlow(t *testing.T) {
	p := NewPlanner()

	out := p.Process(map[string]any{
		"thought":             "figure out the failing partition",
		"thought_number":      1.0,
		"total_thoughts":      3.0,
		"next_thought_needed": true,
		"goal_summary":        "diagnose consumer lag",
	})
	var resp map[string]any
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("response not JSON: %v\n%s", err, out)
	}
	if resp["thought_history_length"].(float64) != 1 || resp["goal_summary"] != "diagnose consumer lag" {
		t.Fatalf("unexpected response: %v", resp)
	}

	// Numbering past the estimate stretches the estimate.
	out = p.Process(map[string]any{
		"thought":             "rebalance finished",
		"thought_number":      5.0,
		"total_thoughts":      3.0,
		"next_thought_needed": false,
	})
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["total_thoughts"].(float64) != 5 {
		t.Fatalf("total_thoughts = %v, want 5", resp["total_thoughts"])
	}
}

func TestPlannerCheckpointRoundTrip(t *testing.T) {
	p := NewPlanner()
	p.Process(map[string]any{"thought": "a", "thought_number": 1.0, "total_thoughts": 1.0})
	p.SaveCheckpoint("cp1")
	p.Process(map[string]any{"thought": "b", "thought_number": 2.0, "total_thoughts": 2.0})

	out := p.LoadCheckpoint("cp1")
	var resp map[string]any
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["thoughts"].(float64) != 1 {
		t.Fatalf("thoughts after load = %v, want 1", resp["thoughts"])
	}

	missing := p.LoadCheckpoint("nope")
	if !strings.Contains(missing, "not found") {
		t.Fatalf("missing checkpoint response: %s", missing)
	}
}

func TestPlannerBranches(t *testing.T) {
	p := NewPlanner()
	p.Process(map[string]any{"thought": "main", "thought_number": 1.0, "total_thoughts": 2.0, "next_thought_needed": true})
	out := p.Process(map[string]any{
		"thought":             "alt approach",
		"thought_number":      2.0,
		"total_thoughts":      2.0,
		"branch_from_thought": 1.0,
		"branch_id":           "alt",
	})
	var resp map[string]any
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatal(err)
	}
	branches := resp["branches"].([]any)
	if len(branches) != 1 || branches[0] != "alt" {
		t.Fatalf("branches = %v", branches)
	}
}

func TestSandboxToolTimeouts(t *testing.T) {
	shell := NewShellExec(nil)
	if shell.Sandbox.HealthTimeout != 30*time.Second {
		t.Fatalf("shell_exec health timeout = %v", shell.Sandbox.HealthTimeout)
	}
	nb := NewNotebookRunCell(nil)
	if nb.Sandbox.HealthTimeout != 300*time.Second {
		t.Fatalf("notebook_run_cell health timeout = %v", nb.Sandbox.HealthTimeout)
	}
	if NewCreateShell(nil).Name != "create_shell" {
		t.Fatal("create_shell name mismatch")
	}
}
