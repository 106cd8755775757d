package emergency_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"resqlink.org/internal/emergency"
	"resqlink.org/internal/identity"
	"resqlink.org/internal/policy"
	"resqlink.org/internal/store/memory"
)

// countingBlobs records writes so tests can assert all-or-nothing behavior.
type countingBlobs struct {
	mu    sync.Mutex
	saves int
	blobs map[string]struct{}
}

func newCountingBlobs() *countingBlobs {
	return &countingBlobs{blobs: make(map[string]struct{})}
}

func (c *countingBlobs) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	ref := fmt.Sprintf("blob-%d", c.saves)
	c.blobs[ref] = struct{}{}
	return ref, nil
}

func (c *countingBlobs) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (c *countingBlobs) Remove(ctx context.Context, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blobs, ref)
	return nil
}

type fakeGateway struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]bool
}

func (g *fakeGateway) Send(ctx context.Context, recipient, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failFor[recipient] {
		return errors.New("gateway unreachable")
	}
	g.sent = append(g.sent, recipient)
	return nil
}

func villager(id string, village int64) policy.Caller {
	return policy.Caller{RealID: id, Role: policy.RoleVillager, Scope: policy.Scope{VillageID: village}}
}

func head(id string, village int64) policy.Caller {
	return policy.Caller{RealID: id, Role: policy.RoleHead, Scope: policy.Scope{VillageID: village}}
}

func super(id string, villages ...int64) policy.Caller {
	return policy.Caller{RealID: id, Role: policy.RoleSuper, Scope: policy.Scope{Villages: villages}}
}

func newTestService(t *testing.T) (*emergency.Service, *memory.Store, *countingBlobs, *fakeGateway) {
	t.Helper()
	store := memory.New()
	store.PutVillage(&emergency.Village{ID: 7, Name: "Kampung Tujuh"})
	store.PutVillage(&emergency.Village{ID: 9, Name: "Kampung Sembilan"})
	blobs := newCountingBlobs()
	gw := &fakeGateway{failFor: map[string]bool{}}
	svc, err := emergency.NewService(store, blobs, store, gw)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, blobs, gw
}

func attachment(name string) emergency.Attachment {
	return emergency.Attachment{Name: name, Content: bytes.NewReader([]byte("data"))}
}

func TestReportVisibilityAcrossRoles(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	submitted, err := svc.SubmitReport(ctx, villager("V1", 7), emergency.ReportInput{
		Description: "flooded road",
		Latitude:    3.1,
		Longitude:   101.6,
	}, nil)
	if err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}

	// The submitting villager sees exactly their report.
	own, err := svc.ListReports(ctx, villager("V1", 7), 0)
	if err != nil {
		t.Fatalf("ListReports V1: %v", err)
	}
	if len(own) != 1 || own[0].ID != submitted.ID {
		t.Fatalf("expected exactly the submitted report, got %d", len(own))
	}

	// A different villager in the same village sees nothing.
	foreign, err := svc.ListReports(ctx, villager("V2", 7), 0)
	if err != nil {
		t.Fatalf("ListReports V2: %v", err)
	}
	if len(foreign) != 0 {
		t.Fatalf("villager must never see another villager's report, got %d", len(foreign))
	}

	// Head of village 7 sees it; head of village 9 does not.
	if got, _ := svc.ListReports(ctx, head("H7", 7), 0); len(got) != 1 {
		t.Fatalf("head 7 expected 1 report, got %d", len(got))
	}
	if got, _ := svc.ListReports(ctx, head("H9", 9), 0); len(got) != 0 {
		t.Fatalf("head 9 expected 0 reports, got %d", len(got))
	}
}

func TestSuperScopeNarrowing(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for i, v := range []int64{7, 9, 12} {
		if _, err := svc.SendSOS(ctx, villager(fmt.Sprintf("V%d", i), v), emergency.SOSInput{Message: "help"}); err != nil {
			t.Fatalf("SendSOS: %v", err)
		}
	}

	s := super("S1", 7, 9)

	all, err := svc.ListSOS(ctx, s, 0)
	if err != nil {
		t.Fatalf("ListSOS: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected SOS from villages {7,9} only, got %d", len(all))
	}
	for _, req := range all {
		if req.VillageID != 7 && req.VillageID != 9 {
			t.Fatalf("SOS outside scope leaked: village %d", req.VillageID)
		}
	}

	narrowed, err := svc.ListSOS(ctx, s, 7)
	if err != nil {
		t.Fatalf("ListSOS narrowed: %v", err)
	}
	if len(narrowed) != 1 || narrowed[0].VillageID != 7 {
		t.Fatalf("expected only village 7, got %d", len(narrowed))
	}

	outside, err := svc.ListSOS(ctx, s, 12)
	if err != nil {
		t.Fatalf("ListSOS out of scope: %v", err)
	}
	if len(outside) != 0 {
		t.Fatal("narrowing to an out-of-scope village must yield empty, not widen")
	}
}

func TestSuperEmptyScopeSeesNoRecords(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SubmitReport(ctx, villager("V1", 7), emergency.ReportInput{Description: "fire"}, nil); err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}

	got, err := svc.ListReports(ctx, super("S0"), 0)
	if err != nil {
		t.Fatalf("empty scope must not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("empty scope must see zero records, got %d", len(got))
	}
}

func TestSubmitReportAttachmentLimit(t *testing.T) {
	svc, store, blobs, _ := newTestService(t)
	ctx := context.Background()

	atts := []emergency.Attachment{
		attachment("a.jpg"), attachment("b.png"), attachment("c.pdf"), attachment("d.gif"),
	}
	_, err := svc.SubmitReport(ctx, villager("V1", 7), emergency.ReportInput{Description: "storm"}, atts)
	if !errors.Is(err, emergency.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for 4 attachments, got %v", err)
	}
	if blobs.saves != 0 {
		t.Fatalf("rejection must not write blobs, wrote %d", blobs.saves)
	}
	if reports, _ := store.ListReports(ctx, emergency.Filter{Villages: []int64{7}}); len(reports) != 0 {
		t.Fatal("rejection must not persist a report")
	}

	v, err := store.GetVillage(ctx, 7)
	if err != nil {
		t.Fatalf("GetVillage: %v", err)
	}
	if v.ReportsToday != 0 {
		t.Fatalf("counter must stay untouched, got %d", v.ReportsToday)
	}
}

func TestSubmitReportRejectsBadExtension(t *testing.T) {
	svc, _, blobs, _ := newTestService(t)
	ctx := context.Background()

	atts := []emergency.Attachment{attachment("ok.jpg"), attachment("payload.exe")}
	_, err := svc.SubmitReport(ctx, villager("V1", 7), emergency.ReportInput{Description: "x y z"}, atts)
	if !errors.Is(err, emergency.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if blobs.saves != 0 {
		t.Fatal("no blob may be written when any extension is rejected")
	}
}

func TestConcurrentSubmissionsCountExactly(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.SubmitReport(ctx, villager(fmt.Sprintf("V%d", i), 7),
				emergency.ReportInput{Description: "concurrent incident"}, nil)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SubmitReport: %v", err)
		}
	}

	v, err := store.GetVillage(ctx, 7)
	if err != nil {
		t.Fatalf("GetVillage: %v", err)
	}
	if v.ReportsToday != n {
		t.Fatalf("expected counter %d, got %d (lost updates)", n, v.ReportsToday)
	}
}

func TestHeadDeleteScopedToOwnVillage(t *testing.T) {
	svc, _, blobs, _ := newTestService(t)
	ctx := context.Background()

	report, err := svc.SubmitReport(ctx, villager("V1", 7), emergency.ReportInput{Description: "landslide"},
		[]emergency.Attachment{attachment("scene.jpg")})
	if err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}

	if err := svc.DeleteReport(ctx, head("H9", 9), report.ID); !errors.Is(err, policy.ErrAccessDenied) {
		t.Fatalf("head of another village must be denied, got %v", err)
	}
	if err := svc.DeleteReport(ctx, villager("V1", 7), report.ID); !errors.Is(err, policy.ErrAccessDenied) {
		t.Fatalf("villager must be denied deletion, got %v", err)
	}
	if err := svc.DeleteReport(ctx, head("H7", 7), report.ID); err != nil {
		t.Fatalf("owning head delete: %v", err)
	}
	if len(blobs.blobs) != 0 {
		t.Fatal("deleting a report must release its blobs")
	}
}

func TestAnnouncementGlobalVisibility(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateAnnouncement(ctx, head("H7", 7), emergency.AnnouncementInput{Title: "boil water"}); err != nil {
		t.Fatalf("head announcement: %v", err)
	}
	if _, err := svc.CreateAnnouncement(ctx, super("S1", 7, 9), emergency.AnnouncementInput{Title: "statewide alert"}); err != nil {
		t.Fatalf("global announcement: %v", err)
	}
	if _, err := svc.CreateAnnouncement(ctx, super("S1", 7, 9), emergency.AnnouncementInput{VillageID: 12, Title: "nope"}); !errors.Is(err, policy.ErrAccessDenied) {
		t.Fatalf("out-of-scope target must be denied, got %v", err)
	}

	// Villager in village 9 sees the global alert but not village 7's.
	got, err := svc.ListAnnouncements(ctx, villager("V9", 9), 0)
	if err != nil {
		t.Fatalf("ListAnnouncements: %v", err)
	}
	if len(got) != 1 || got[0].Title != "statewide alert" {
		t.Fatalf("expected only the global announcement, got %d", len(got))
	}

	// Villager in village 7 sees both.
	if got, _ := svc.ListAnnouncements(ctx, villager("V7", 7), 0); len(got) != 2 {
		t.Fatalf("expected both announcements, got %d", len(got))
	}

	// Filtering the listing to a village unions in the global alert rather
	// than dropping it.
	got, err = svc.ListAnnouncements(ctx, villager("V7", 7), 7)
	if err != nil {
		t.Fatalf("filtered ListAnnouncements: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("village filter must keep the global alert, got %d", len(got))
	}
}

func TestVillageStatusUpdate(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	v, err := svc.UpdateVillageStatus(ctx, head("H7", 7), emergency.StatusInput{
		EmergencyStatus: "flood warning",
		ServiceStatus:   "water disrupted",
	})
	if err != nil {
		t.Fatalf("UpdateVillageStatus: %v", err)
	}
	if v.EmergencyStatus != "flood warning" || v.ServiceStatus != "water disrupted" {
		t.Fatalf("status not applied: %+v", v)
	}

	if _, err := svc.UpdateVillageStatus(ctx, villager("V1", 7), emergency.StatusInput{}); !errors.Is(err, policy.ErrAccessDenied) {
		t.Fatalf("villager must be denied, got %v", err)
	}
	if _, err := svc.UpdateVillageStatus(ctx, super("S1", 7), emergency.StatusInput{}); !errors.Is(err, policy.ErrAccessDenied) {
		t.Fatalf("super must be denied, got %v", err)
	}
}

func TestBroadcastCountsSuccesses(t *testing.T) {
	svc, store, _, gw := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = store.CreateUser(ctx, &identity.User{
			RealID:          fmt.Sprintf("V%d", i),
			Email:           fmt.Sprintf("v%d@example.com", i),
			Phone:           fmt.Sprintf("01234567%02d", i),
			Role:            string(policy.RoleVillager),
			AssignedVillage: 7,
		})
	}
	gw.failFor["0123456701"] = true

	sent, err := svc.Broadcast(ctx, head("H7", 7), "evacuate to the community hall")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if sent != 2 {
		t.Fatalf("expected 2 successful sends past 1 failure, got %d", sent)
	}

	if _, err := svc.Broadcast(ctx, villager("V0", 7), "nope"); !errors.Is(err, policy.ErrAccessDenied) {
		t.Fatalf("villager broadcast must be denied, got %v", err)
	}
}

func TestResolveSOSRequiresHeadOfVillage(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	sos, err := svc.SendSOS(ctx, villager("V1", 7), emergency.SOSInput{Message: "trapped"})
	if err != nil {
		t.Fatalf("SendSOS: %v", err)
	}

	if err := svc.ResolveSOS(ctx, villager("V1", 7), sos.ID); !errors.Is(err, policy.ErrAccessDenied) {
		t.Fatalf("villager resolve must be denied, got %v", err)
	}
	if err := svc.ResolveSOS(ctx, super("S1", 7, 9), sos.ID); !errors.Is(err, policy.ErrAccessDenied) {
		t.Fatalf("super resolve must be denied, got %v", err)
	}
	if err := svc.ResolveSOS(ctx, head("H9", 9), sos.ID); !errors.Is(err, policy.ErrAccessDenied) {
		t.Fatalf("cross-village resolve must be denied, got %v", err)
	}
	if err := svc.ResolveSOS(ctx, head("H7", 7), sos.ID); err != nil {
		t.Fatalf("owning head resolve: %v", err)
	}
	if err := svc.ResolveSOS(ctx, head("H7", 7), "missing"); !errors.Is(err, emergency.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestCleanupSOSClearsOwnVillageOnly(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.SendSOS(ctx, villager(fmt.Sprintf("V7%d", i), 7), emergency.SOSInput{Message: "help"}); err != nil {
			t.Fatalf("SendSOS: %v", err)
		}
	}
	if _, err := svc.SendSOS(ctx, villager("V9", 9), emergency.SOSInput{Message: "help"}); err != nil {
		t.Fatalf("SendSOS: %v", err)
	}

	if _, err := svc.CleanupSOS(ctx, villager("V70", 7)); !errors.Is(err, policy.ErrAccessDenied) {
		t.Fatalf("villager cleanup must be denied, got %v", err)
	}
	if _, err := svc.CleanupSOS(ctx, super("S1", 7, 9)); !errors.Is(err, policy.ErrAccessDenied) {
		t.Fatalf("super cleanup must be denied, got %v", err)
	}

	removed, err := svc.CleanupSOS(ctx, head("H7", 7))
	if err != nil {
		t.Fatalf("CleanupSOS: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}

	// Village 9's signal survives; a second sweep finds nothing.
	if got, _ := svc.ListSOS(ctx, head("H9", 9), 0); len(got) != 1 {
		t.Fatalf("village 9 signal must survive, got %d", len(got))
	}
	if removed, _ := svc.CleanupSOS(ctx, head("H7", 7)); removed != 0 {
		t.Fatalf("second sweep must remove nothing, got %d", removed)
	}
}
