package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/z0rr0/wattcast/forecaster"
	"github.com/z0rr0/wattcast/series"
)

func TestRecorder_RecordRun(t *testing.T) {
	r := New()

	result := &forecaster.Result{
		Steps: []series.Point{
			{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: 1.25},
			{Timestamp: time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), Value: 1.5},
		},
		Sanitized: 3,
		Duration:  20 * time.Millisecond,
	}

	r.RecordRun("booster", result, nil)
	r.RecordRun("booster", nil, errors.New("predictor failure"))
	r.RecordRun("profile", nil, errors.New("predictor failure"))

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{name: "ok runs", got: testutil.ToFloat64(r.runs.WithLabelValues("booster", statusOK)), want: 1},
		{name: "booster errors", got: testutil.ToFloat64(r.runs.WithLabelValues("booster", statusError)), want: 1},
		{name: "profile errors", got: testutil.ToFloat64(r.runs.WithLabelValues("profile", statusError)), want: 1},
		{name: "steps", got: testutil.ToFloat64(r.steps), want: 2},
		{name: "sanitized", got: testutil.ToFloat64(r.sanitized), want: 3},
		{name: "next hour", got: testutil.ToFloat64(r.nextHour), want: 1.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if v := testutil.ToFloat64(r.lastRun); v <= 0 {
		t.Errorf("last run timestamp = %v", v)
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	r.RecordRun("booster", &forecaster.Result{}, nil) // must not panic
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.RecordRun("profile", &forecaster.Result{Steps: []series.Point{{Value: 2}}}, nil)

	server := httptest.NewServer(r.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET metrics error = %v", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			t.Errorf("close body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error = %v", err)
	}

	for _, want := range []string{
		`wattcast_forecast_runs_total{predictor="profile",status="ok"} 1`,
		"wattcast_forecast_next_hour_kw 2",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output has no %q", want)
		}
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.RecordRun("booster", &forecaster.Result{}, nil)

	if v := testutil.ToFloat64(b.runs.WithLabelValues("booster", statusOK)); v != 0 {
		t.Errorf("second recorder counted %v runs", v)
	}
}
