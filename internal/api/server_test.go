package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clinicpulse/nudge-engine/internal/cache"
	"github.com/clinicpulse/nudge-engine/internal/clinic"
	"github.com/clinicpulse/nudge-engine/internal/config"
	"github.com/clinicpulse/nudge-engine/internal/metrics"
	"github.com/clinicpulse/nudge-engine/internal/notify"
	"github.com/clinicpulse/nudge-engine/internal/rules"
	"github.com/clinicpulse/nudge-engine/internal/scheduler"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type staticDirectory struct{ clinics []clinic.Clinic }

func (d *staticDirectory) ListActive(ctx context.Context) ([]clinic.Clinic, error) {
	return d.clinics, nil
}

func (d *staticDirectory) GetByID(ctx context.Context, id string) (*clinic.Clinic, error) {
	for i := range d.clinics {
		if d.clinics[i].ID == id {
			return &d.clinics[i], nil
		}
	}
	return nil, errors.New("unknown clinic")
}

type staticProvider struct{ snapshot metrics.Snapshot }

func (p *staticProvider) Snapshot(ctx context.Context, clinicID string) (*metrics.Snapshot, error) {
	s := p.snapshot
	return &s, nil
}

// newTestServer builds the full router over the in-memory store.
func newTestServer(t *testing.T) (*httptest.Server, *notify.MemoryStore) {
	t.Helper()
	store := notify.NewMemoryStore()
	store.SetDispatcher(notify.NewDispatcher(nil, nil, nil, store, discard))

	dir := &staticDirectory{clinics: []clinic.Clinic{{ID: "c1", Name: "Riverside Dental", PackageTier: "standard"}}}
	prov := &staticProvider{snapshot: metrics.Snapshot{
		SEOScore: 60, SEOScoreChange: -10,
		TotalClicks: 3, CompletionScore: 90,
		MarketRank: 5, PreviousMarketRank: 5,
	}}
	engine := rules.NewEngine(rules.Catalog(), store, discard)
	runner := scheduler.NewRunner(dir, prov, engine, store, scheduler.NopRunLog{}, discard,
		scheduler.WithBatchRate(1000))

	cfg := &config.Config{
		CORSAllowOrigins: []string{"*"},
		CacheEnabled:     true,
	}
	srv := httptest.NewServer(NewRouter(store, runner, cache.New(true), cfg, nil))
	t.Cleanup(srv.Close)
	return srv, store
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestListNotifications(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	store.Enqueue(ctx, &notify.Notification{
		ClinicID: "c1", Type: notify.TypeWarning, Priority: notify.PriorityMedium,
		Title: "Traffic dropped 20%", Message: "m", Category: "traffic",
	})

	resp, err := http.Get(srv.URL + "/api/v1/clinics/c1/notifications")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var body struct {
		ClinicID      string                `json:"clinic_id"`
		Count         int                   `json:"count"`
		Notifications []notify.Notification `json:"notifications"`
	}
	decodeBody(t, resp, &body)
	if body.ClinicID != "c1" || body.Count != 1 || len(body.Notifications) != 1 {
		t.Errorf("body %+v", body)
	}
	if body.Notifications[0].Title != "Traffic dropped 20%" {
		t.Errorf("title %q", body.Notifications[0].Title)
	}

	// Another clinic sees nothing.
	resp, err = http.Get(srv.URL + "/api/v1/clinics/c2/notifications")
	if err != nil {
		t.Fatal(err)
	}
	decodeBody(t, resp, &body)
	if body.Count != 0 {
		t.Errorf("clinic c2 sees %d notifications", body.Count)
	}
}

func TestMarkRead_RequiresClinicID(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/notifications/some-id/read", "application/json",
		strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestMarkRead_UnknownNotification(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/notifications/missing/read", "application/json",
		strings.NewReader(`{"clinic_id":"c1"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d, want 404", resp.StatusCode)
	}
}

func TestMarkRead_ThenUnreadFilter(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	id, _, _ := store.Enqueue(ctx, &notify.Notification{
		ClinicID: "c1", Type: notify.TypeReminder, Priority: notify.PriorityLow,
		Title: "Finish your profile", Message: "m", Category: "profile",
	})

	resp, err := http.Post(srv.URL+"/api/v1/notifications/"+id+"/read", "application/json",
		strings.NewReader(`{"clinic_id":"c1"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/clinics/c1/notifications?unread_only=true")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Count int `json:"count"`
	}
	decodeBody(t, resp, &body)
	if body.Count != 0 {
		t.Errorf("unread count %d after read, want 0", body.Count)
	}
}

func TestGetStats_ETagRoundTrip(t *testing.T) {
	srv, store := newTestServer(t)
	store.Enqueue(context.Background(), &notify.Notification{
		ClinicID: "c1", Type: notify.TypeWarning, Priority: notify.PriorityMedium,
		Title: "t", Message: "m", Category: "traffic",
	})

	resp, err := http.Get(srv.URL + "/api/v1/clinics/c1/notifications/stats?days=30")
	if err != nil {
		t.Fatal(err)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag header")
	}
	var st notify.Stats
	decodeBody(t, resp, &st)
	if st.TotalSent != 1 {
		t.Errorf("total sent %d, want 1", st.TotalSent)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/clinics/c1/notifications/stats?days=30", nil)
	req.Header.Set("If-None-Match", etag)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("status %d, want 304", resp.StatusCode)
	}
}

func TestOpsRunNudges(t *testing.T) {
	srv, store := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/ops/nudges/run", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var result scheduler.RunResult
	decodeBody(t, resp, &result)
	if result.TotalClinics != 1 || result.Processed != 1 {
		t.Errorf("result %+v", result)
	}
	if result.NotificationsCreated != 1 {
		t.Errorf("created %d notifications, want 1 (seo drop)", result.NotificationsCreated)
	}

	list, _ := store.GetForClinic(context.Background(), "c1", notify.ListOptions{})
	if len(list) != 1 {
		t.Errorf("store holds %d notifications", len(list))
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/", "/health", "/health/cache"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status %d", path, resp.StatusCode)
		}
	}
}
