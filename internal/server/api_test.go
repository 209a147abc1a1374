package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/afroash/realtimeapp/internal/models"
	"github.com/afroash/realtimeapp/internal/storage"
)

func seedStore(t *testing.T, store storage.ReadingStore, readings ...*models.SensorReading) {
	t.Helper()
	for _, r := range readings {
		if _, err := store.Save(context.Background(), r); err != nil {
			t.Fatalf("Save(%s) failed: %v", r.ReadingID, err)
		}
	}
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s failed: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestAPI_All(t *testing.T) {
	ts := newTestServer(t, HandlerConfig{})
	seedStore(t, ts.store,
		&models.SensorReading{ReadingID: "bedroom20181815170112298831", Room: "bedroom", Temperature: models.Int(20), Humidity: models.Int(60), Date: "2018-01-15 17:18:12.298831"},
		&models.SensorReading{ReadingID: "backyard_test_220180105165023", Room: "backyard_test_2", Temperature: models.Float(11.1), Humidity: models.Float(51.5), Date: "2018-01-05T16:50:21.114721"},
	)

	var readings models.Readings
	if status := getJSON(t, ts.server.URL+"/api/readings", &readings); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}

	if len(readings) != 2 {
		t.Fatalf("len = %d, want 2", len(readings))
	}
	want := models.Attributes{Date: "2018-01-15 17:18:12.298831", Room: "bedroom", Temperature: "20", Humidity: "60"}
	if readings["bedroom20181815170112298831"] != want {
		t.Errorf("bedroom = %+v, want %+v", readings["bedroom20181815170112298831"], want)
	}
	if readings["backyard_test_220180105165023"].Humidity != "51.5" {
		t.Errorf("humidity = %q, want 51.5", readings["backyard_test_220180105165023"].Humidity)
	}
}

func TestAPI_Recent(t *testing.T) {
	ts := newTestServer(t, HandlerConfig{})
	seedStore(t, ts.store,
		models.NewSensorReading("fresh", "kitchen", models.Int(21), models.Int(45)),
		&models.SensorReading{ReadingID: "old", Room: "kitchen", Temperature: models.Int(18), Humidity: models.Int(50), Date: "2018-01-05T16:50:21"},
	)

	var readings models.Readings
	if status := getJSON(t, ts.server.URL+"/api/readings/recent", &readings); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if _, ok := readings["fresh"]; !ok || len(readings) != 1 {
		t.Errorf("recent = %v, want only fresh", readings)
	}

	if status := getJSON(t, ts.server.URL+"/api/readings/recent?days=100000", &readings); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(readings) != 2 {
		t.Errorf("len = %d, want 2", len(readings))
	}

	for _, bad := range []string{"0", "-1", "abc"} {
		if status := getJSON(t, ts.server.URL+"/api/readings/recent?days="+bad, nil); status != http.StatusBadRequest {
			t.Errorf("days=%s status = %d, want 400", bad, status)
		}
	}
}

func TestAPI_Get(t *testing.T) {
	ts := newTestServer(t, HandlerConfig{})
	reading := models.NewSensorReading("hall-1", "hall", models.Float(19.5), models.Int(44))
	seedStore(t, ts.store, reading)

	var got models.SensorReading
	if status := getJSON(t, ts.server.URL+"/api/readings/hall-1", &got); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if got != *reading {
		t.Errorf("got %+v, want %+v", got, reading)
	}

	var errPayload models.ErrorPayload
	if status := getJSON(t, ts.server.URL+"/api/readings/missing", &errPayload); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestAPI_Save(t *testing.T) {
	ts := newTestServer(t, HandlerConfig{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantInBody string
	}{
		{
			name:       "valid reading",
			body:       `{"reading_id":"backyard_test_1201801051548","room":"backyard_test","temperature":15,"humidity":99,"date":"2018-01-05T15:48:00"}`,
			wantStatus: http.StatusCreated,
			wantInBody: `"temperature":15`,
		},
		{
			name:       "non-numeric temperature",
			body:       `{"reading_id":"backyard_test_3201801051650","room":"backyard_test_3","temperature":"string","humidity":51.5,"date":"2018-01-05T16:50:21.114721"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantInBody: "ValidationError (SensorReading:backyard_test_3201801051650)",
		},
		{
			name:       "malformed json",
			body:       `{"reading_id":`,
			wantStatus: http.StatusBadRequest,
			wantInBody: "invalid JSON body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.server.URL+"/api/readings", "application/json", bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatalf("POST failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var buf bytes.Buffer
			buf.ReadFrom(resp.Body)
			if !strings.Contains(buf.String(), tt.wantInBody) {
				t.Errorf("body = %s, want to contain %s", buf.String(), tt.wantInBody)
			}
		})
	}

	all, _ := ts.store.All(context.Background())
	if len(all) != 1 {
		t.Errorf("stored %d readings, want 1", len(all))
	}
}

func TestAPI_HealthStatsSessions(t *testing.T) {
	ts := newTestServer(t, HandlerConfig{})
	seedStore(t, ts.store, models.NewSensorReading("a", "attic", models.Int(10), models.Int(80)))

	var health HealthData
	if status := getJSON(t, ts.server.URL+"/health", &health); status != http.StatusOK || health.Status != "ok" || health.Version != "test" {
		t.Errorf("health = %d %+v", status, health)
	}

	var stats storage.StorageStats
	if status := getJSON(t, ts.server.URL+"/api/stats", &stats); status != http.StatusOK || stats.TotalReadings != 1 {
		t.Errorf("stats = %d %+v", status, stats)
	}

	var sessions SessionsData
	if status := getJSON(t, ts.server.URL+"/api/sessions", &sessions); status != http.StatusOK || sessions.Count != 0 {
		t.Errorf("sessions = %d %+v", status, sessions)
	}
}

func TestAPI_CORS(t *testing.T) {
	ts := newTestServer(t, HandlerConfig{AllowedOrigins: []string{"http://dashboard.local"}})

	req, _ := http.NewRequest(http.MethodGet, ts.server.URL+"/api/readings", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://dashboard.local" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
