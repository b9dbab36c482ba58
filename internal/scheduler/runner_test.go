package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/clinicpulse/nudge-engine/internal/clinic"
	"github.com/clinicpulse/nudge-engine/internal/metrics"
	"github.com/clinicpulse/nudge-engine/internal/notify"
	"github.com/clinicpulse/nudge-engine/internal/rules"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeDirectory struct {
	clinics []clinic.Clinic
	err     error
}

func (f *fakeDirectory) ListActive(ctx context.Context) ([]clinic.Clinic, error) {
	return f.clinics, f.err
}

func (f *fakeDirectory) GetByID(ctx context.Context, id string) (*clinic.Clinic, error) {
	for i := range f.clinics {
		if f.clinics[i].ID == id {
			return &f.clinics[i], nil
		}
	}
	return nil, errors.New("unknown clinic")
}

type fakeProvider struct {
	snapshot *metrics.Snapshot
	failFor  map[string]bool
}

func (f *fakeProvider) Snapshot(ctx context.Context, clinicID string) (*metrics.Snapshot, error) {
	if f.failFor[clinicID] {
		return nil, errors.New("analytics unavailable")
	}
	s := *f.snapshot
	return &s, nil
}

type recordingRunLog struct {
	mu      sync.Mutex
	runs    []RunResult
	firings []Firing
}

func (l *recordingRunLog) RecordRun(ctx context.Context, r RunResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, r)
	return nil
}

func (l *recordingRunLog) RecordFiring(ctx context.Context, f Firing) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.firings = append(l.firings, f)
	return nil
}

func clinics(n int) []clinic.Clinic {
	out := make([]clinic.Clinic, n)
	for i := range out {
		out[i] = clinic.Clinic{
			ID:          string(rune('a' + i)),
			Name:        "Clinic " + string(rune('A'+i)),
			PackageTier: "standard",
		}
	}
	return out
}

// firingSnapshot trips the SEO drop rule for every clinic.
func firingSnapshot() *metrics.Snapshot {
	return &metrics.Snapshot{
		ProfileViews:    10,
		TotalClicks:     3,
		SEOScore:        60,
		SEOScoreChange:  -10,
		CompletionScore: 90,
		MarketRank:      5, PreviousMarketRank: 5,
	}
}

func newTestRunner(dir *fakeDirectory, prov *fakeProvider, store notify.Store, log RunLog, opts ...Option) *Runner {
	engine := rules.NewEngine(rules.Catalog(), store, discard)
	base := []Option{WithBatchRate(1000)} // keep the pacer out of test time
	return NewRunner(dir, prov, engine, store, log, discard, append(base, opts...)...)
}

func TestRunForAllClinics_Summary(t *testing.T) {
	dir := &fakeDirectory{clinics: clinics(5)}
	store := notify.NewMemoryStore()
	log := &recordingRunLog{}
	r := newTestRunner(dir, &fakeProvider{snapshot: firingSnapshot()}, store, log, WithBatchSize(2))

	result := r.RunForAllClinics(context.Background())

	if result.RunID == "" {
		t.Error("missing run id")
	}
	if result.TotalClinics != 5 || result.Processed != 5 || result.Errors != 0 {
		t.Errorf("total=%d processed=%d errors=%d, want 5/5/0",
			result.TotalClinics, result.Processed, result.Errors)
	}
	if result.NotificationsCreated != 5 {
		t.Errorf("created %d notifications, want 5", result.NotificationsCreated)
	}
	if len(log.runs) != 1 {
		t.Fatalf("recorded %d run summaries, want 1", len(log.runs))
	}
	if len(log.firings) != 5 {
		t.Errorf("recorded %d firings, want 5", len(log.firings))
	}
	for _, f := range log.firings {
		if f.RunID != result.RunID || f.RuleID != "seo_score_drop" || f.NotificationID == "" {
			t.Errorf("bad firing record %+v", f)
		}
	}
}

func TestRunForAllClinics_PacesBatches(t *testing.T) {
	// Three batches at 10 batches/sec: the first spends the burst token,
	// so the run has to absorb two limiter waits of ~100ms each.
	dir := &fakeDirectory{clinics: clinics(6)}
	store := notify.NewMemoryStore()
	engine := rules.NewEngine(rules.Catalog(), store, discard)
	r := NewRunner(dir, &fakeProvider{snapshot: firingSnapshot()}, engine, store,
		&recordingRunLog{}, discard, WithBatchSize(2), WithBatchRate(10))

	start := time.Now()
	result := r.RunForAllClinics(context.Background())
	elapsed := time.Since(start)

	if result.Processed != 6 || result.Errors != 0 {
		t.Fatalf("processed=%d errors=%d, want 6/0", result.Processed, result.Errors)
	}
	if elapsed < 180*time.Millisecond {
		t.Errorf("run finished in %v, want at least ~200ms of pacing", elapsed)
	}
}

func TestRunForAllClinics_SnapshotFailureContained(t *testing.T) {
	dir := &fakeDirectory{clinics: clinics(3)}
	prov := &fakeProvider{snapshot: firingSnapshot(), failFor: map[string]bool{"b": true}}
	store := notify.NewMemoryStore()
	r := newTestRunner(dir, prov, store, &recordingRunLog{})

	result := r.RunForAllClinics(context.Background())

	if result.Processed != 2 || result.Errors != 1 {
		t.Errorf("processed=%d errors=%d, want 2/1", result.Processed, result.Errors)
	}
	if result.NotificationsCreated != 2 {
		t.Errorf("created %d, want 2", result.NotificationsCreated)
	}
	if len(result.ErrorDetails) != 1 {
		t.Fatalf("error details %v, want one entry", result.ErrorDetails)
	}

	// The failing clinic got no notification.
	list, _ := store.GetForClinic(context.Background(), "b", notify.ListOptions{})
	if len(list) != 0 {
		t.Errorf("failing clinic received %d notifications", len(list))
	}
}

func TestRunForAllClinics_DirectoryFailure(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("directory down")}
	r := newTestRunner(dir, &fakeProvider{snapshot: firingSnapshot()}, notify.NewMemoryStore(), &recordingRunLog{})

	result := r.RunForAllClinics(context.Background())
	if result.TotalClinics != 0 || result.Processed != 0 || result.Errors != 1 {
		t.Errorf("total=%d processed=%d errors=%d, want 0/0/1",
			result.TotalClinics, result.Processed, result.Errors)
	}
}

func TestRunForAllClinics_RerunSuppressesDuplicates(t *testing.T) {
	// A rule without a cooldown reruns immediately; the duplicate window
	// must then absorb the second enqueue.
	catalog := []rules.Rule{{
		ID: "always", Category: "m",
		Type: notify.TypeMilestone, Priority: notify.PriorityLow,
		Condition: func(c *clinic.Clinic, m *metrics.Snapshot) bool { return true },
		Render: func(c *clinic.Clinic, m *metrics.Snapshot) rules.Content {
			return rules.Content{Title: "same title every run", Message: "m"}
		},
	}}

	dir := &fakeDirectory{clinics: clinics(3)}
	store := notify.NewMemoryStore()
	engine := rules.NewEngine(catalog, store, discard)
	r := NewRunner(dir, &fakeProvider{snapshot: firingSnapshot()}, engine, store,
		&recordingRunLog{}, discard, WithBatchRate(1000))

	first := r.RunForAllClinics(context.Background())
	if first.NotificationsCreated != 3 || first.DuplicatesSuppressed != 0 {
		t.Fatalf("first run created=%d duplicates=%d, want 3/0",
			first.NotificationsCreated, first.DuplicatesSuppressed)
	}

	second := r.RunForAllClinics(context.Background())
	if second.NotificationsCreated != 0 || second.DuplicatesSuppressed != 3 {
		t.Errorf("second run created=%d duplicates=%d, want 0/3",
			second.NotificationsCreated, second.DuplicatesSuppressed)
	}
}

func TestRunForAllClinics_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := &fakeDirectory{clinics: clinics(3)}
	r := newTestRunner(dir, &fakeProvider{snapshot: firingSnapshot()}, notify.NewMemoryStore(), &recordingRunLog{})

	result := r.RunForAllClinics(ctx)
	if result.Errors == 0 {
		t.Error("cancelled run reported no errors")
	}
	if result.Processed != 0 {
		t.Errorf("processed %d clinics after cancellation", result.Processed)
	}
}

func TestRunResult_Summary(t *testing.T) {
	r := RunResult{
		TotalClinics: 10, Processed: 9, Errors: 1,
		NotificationsCreated: 4, DuplicatesSuppressed: 2,
		Duration: 1500 * time.Millisecond,
	}
	got := r.Summary()
	want := "clinics=10 processed=9 errors=1 created=4 duplicates=2 dur=1.5s"
	if got != want {
		t.Errorf("summary %q, want %q", got, want)
	}
}
