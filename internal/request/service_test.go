package request

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/mouseland/aistudio/internal/identity"
	"github.com/mouseland/aistudio/internal/quota"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	topics []string
}

func (b *fakeBroadcaster) PublishTopic(topic string, msg []byte) {
	_ = msg
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
}

func (b *fakeBroadcaster) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type fakePublisher struct {
	ids []string
	err error
}

func (p *fakePublisher) PublishSubmitted(ctx context.Context, requestID string) error {
	_ = ctx
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, requestID)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Request{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if err := db.Exec("DELETE FROM generation_requests").Error; err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}

func guestIdent(key string) identity.Identity {
	return identity.Identity{Tier: identity.TierGuest, Key: key, Name: "Guest User", Contact: "guest"}
}

func memberIdent(key string) identity.Identity {
	return identity.Identity{Tier: identity.TierMember, Key: key, Name: "member", Contact: "member@example.com"}
}

func adminIdent() identity.Identity {
	return identity.Identity{Tier: identity.TierAdmin, Key: "user_1", Name: "op", Contact: "op@example.com"}
}

func newTestService(t *testing.T, allotment int) (*Service, *Repo, *fakeBroadcaster, *fakePublisher) {
	t.Helper()
	repo := NewRepo(openTestDB(t))
	hub := &fakeBroadcaster{}
	pub := &fakePublisher{}
	svc := NewService(repo, quota.NewMemoryLedger(allotment), hub, pub)
	return svc, repo, hub, pub
}

func TestSubmit_CreatesPendingRecord(t *testing.T) {
	svc, repo, hub, pub := newTestService(t, 2)
	g := guestIdent("guest_abc")

	req, err := svc.Submit(context.Background(), g, KindImage, "  a cat  ", 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.ID == "" {
		t.Fatalf("expected id to be assigned")
	}
	if req.Status != StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	if req.ResultURI != "" {
		t.Fatalf("expected empty result uri, got %q", req.ResultURI)
	}
	if req.Prompt != "a cat" {
		t.Fatalf("expected trimmed prompt, got %q", req.Prompt)
	}
	if req.VideoDuration != nil {
		t.Fatalf("expected nil duration for image request")
	}
	if req.RequesterKey != g.Key || req.RequesterName != g.Name || req.RequesterContact != g.Contact {
		t.Fatalf("requester fields not captured: %+v", req)
	}

	stored, err := repo.GetByID(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.Status != StatusPending || stored.ResultURI != "" {
		t.Fatalf("stored record wrong: status=%s uri=%q", stored.Status, stored.ResultURI)
	}
	if stored.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be set")
	}

	if hub.count(RequesterTopic(g.Key)) != 1 || hub.count(PendingTopic) != 1 {
		t.Fatalf("expected one notification per topic, got %v", hub.topics)
	}
	if len(pub.ids) != 1 || pub.ids[0] != req.ID {
		t.Fatalf("expected submitted event for %s, got %v", req.ID, pub.ids)
	}
}

func TestSubmit_VideoDuration(t *testing.T) {
	svc, _, _, _ := newTestService(t, 10)
	g := guestIdent("guest_video")

	req, err := svc.Submit(context.Background(), g, KindVideo, "neon city", 10)
	if err != nil {
		t.Fatalf("submit video: %v", err)
	}
	if req.VideoDuration == nil || *req.VideoDuration != 10 {
		t.Fatalf("expected duration 10, got %v", req.VideoDuration)
	}

	if _, err := svc.Submit(context.Background(), g, KindVideo, "neon city", 7); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration for 7s, got %v", err)
	}
	if _, err := svc.Submit(context.Background(), g, KindVideo, "neon city", 0); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration for missing duration, got %v", err)
	}
	if _, err := svc.Submit(context.Background(), g, KindImage, "a cat", 10); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration for image with duration, got %v", err)
	}
}

func TestSubmit_Validation(t *testing.T) {
	svc, repo, _, pub := newTestService(t, 2)
	g := guestIdent("guest_val")

	cases := []struct {
		name     string
		kind     Kind
		prompt   string
		duration int
		want     error
	}{
		{"empty prompt", KindImage, "", 0, ErrEmptyPrompt},
		{"whitespace prompt", KindImage, "   \n\t ", 0, ErrEmptyPrompt},
		{"prompt too long", KindImage, strings.Repeat("x", MaxPromptRunes+1), 0, ErrPromptTooLong},
		{"unknown kind", Kind("audio"), "a song", 0, ErrInvalidKind},
	}
	for _, tc := range cases {
		if _, err := svc.Submit(context.Background(), g, tc.kind, tc.prompt, tc.duration); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	// failed validation must not charge quota, write rows, or emit events
	remaining, err := svc.Remaining(context.Background(), g, KindImage)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected untouched allotment 2, got %d", remaining)
	}
	rows, err := repo.ListByRequester(context.Background(), g.Key, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no records, got %d", len(rows))
	}
	if len(pub.ids) != 0 {
		t.Fatalf("expected no events, got %v", pub.ids)
	}
}

func TestSubmit_GuestQuotaExhaustion(t *testing.T) {
	svc, repo, _, _ := newTestService(t, 2)
	g := guestIdent("guest_G1")

	if _, err := svc.Submit(context.Background(), g, KindImage, "a cat", 0); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if r, _ := svc.Remaining(context.Background(), g, KindImage); r != 1 {
		t.Fatalf("expected remaining 1, got %d", r)
	}
	if _, err := svc.Submit(context.Background(), g, KindImage, "a dog", 0); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if r, _ := svc.Remaining(context.Background(), g, KindImage); r != 0 {
		t.Fatalf("expected remaining 0, got %d", r)
	}

	if _, err := svc.Submit(context.Background(), g, KindImage, "a bird", 0); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if r, _ := svc.Remaining(context.Background(), g, KindImage); r != 0 {
		t.Fatalf("remaining should stay 0 after rejection, got %d", r)
	}
	rows, err := repo.ListByRequester(context.Background(), g.Key, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rejected submission must not create a record, got %d rows", len(rows))
	}

	// the video allowance is a separate counter
	if _, err := svc.Submit(context.Background(), g, KindVideo, "a fish", 5); err != nil {
		t.Fatalf("video submit after image exhaustion: %v", err)
	}
}

func TestSubmit_MemberUnmetered(t *testing.T) {
	svc, _, _, _ := newTestService(t, 2)
	m := memberIdent("user_42")

	for i := 0; i < 5; i++ {
		if _, err := svc.Submit(context.Background(), m, KindImage, "more cats", 0); err != nil {
			t.Fatalf("member submit %d: %v", i, err)
		}
	}
	r, err := svc.Remaining(context.Background(), m, KindImage)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if r != quota.Unlimited {
		t.Fatalf("expected unlimited sentinel, got %d", r)
	}
}

func TestFulfill_TransitionsExactlyOnce(t *testing.T) {
	svc, repo, hub, _ := newTestService(t, 2)
	g := guestIdent("guest_ful")
	admin := adminIdent()

	created, err := svc.Submit(context.Background(), g, KindVideo, "neon city", 10)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	fulfilled, err := svc.Fulfill(context.Background(), admin, created.ID, "https://cdn/x.mp4")
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if fulfilled.Status != StatusCompleted || fulfilled.ResultURI != "https://cdn/x.mp4" {
		t.Fatalf("unexpected fulfilled state: status=%s uri=%q", fulfilled.Status, fulfilled.ResultURI)
	}

	// a second fulfill loses the race and must not touch the stored uri
	if _, err := svc.Fulfill(context.Background(), admin, created.ID, "https://cdn/other.mp4"); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
	stored, err := repo.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ResultURI != "https://cdn/x.mp4" {
		t.Fatalf("result uri was altered: %q", stored.ResultURI)
	}

	// submit + fulfill each notify both topics
	if hub.count(RequesterTopic(g.Key)) != 2 || hub.count(PendingTopic) != 2 {
		t.Fatalf("expected two notifications per topic, got %v", hub.topics)
	}
}

func TestFulfill_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t, 2)
	if _, err := svc.Fulfill(context.Background(), adminIdent(), "01UNKNOWN0000000000000000X", "https://cdn/x.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFulfill_RequiresAdmin(t *testing.T) {
	svc, repo, _, _ := newTestService(t, 2)
	g := guestIdent("guest_auth")

	created, err := svc.Submit(context.Background(), g, KindImage, "a cat", 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	for _, ident := range []identity.Identity{g, memberIdent("user_7")} {
		if _, err := svc.Fulfill(context.Background(), ident, created.ID, "https://cdn/x.png"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("tier %s: expected ErrUnauthorized, got %v", ident.Tier, err)
		}
		if _, err := svc.ListPending(context.Background(), ident, 0); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("tier %s: expected ErrUnauthorized from ListPending, got %v", ident.Tier, err)
		}
	}

	stored, err := repo.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusPending {
		t.Fatalf("unauthorized fulfill must not change status, got %s", stored.Status)
	}
}

func TestReject_SetsFailReason(t *testing.T) {
	svc, repo, _, _ := newTestService(t, 2)
	g := guestIdent("guest_rej")
	admin := adminIdent()

	created, err := svc.Submit(context.Background(), g, KindImage, "something odd", 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rejected, err := svc.Reject(context.Background(), admin, created.ID, "policy violation")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", rejected.Status)
	}
	if rejected.FailReason == nil || *rejected.FailReason != "policy violation" {
		t.Fatalf("expected fail reason, got %v", rejected.FailReason)
	}
	if rejected.ResultURI != "" {
		t.Fatalf("rejected request must not carry a result uri")
	}

	// terminal: neither fulfill nor a second reject may apply
	if _, err := svc.Fulfill(context.Background(), admin, created.ID, "https://cdn/x.png"); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed after reject, got %v", err)
	}
	if _, err := svc.Reject(context.Background(), admin, created.ID, "again"); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed on double reject, got %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), created.ID)
	if stored.Status != StatusFailed {
		t.Fatalf("status must stay failed, got %s", stored.Status)
	}
}

func TestListPending_NewestFirstAndExcludesClosed(t *testing.T) {
	svc, repo, _, _ := newTestService(t, 2)
	admin := adminIdent()

	base := time.Now().Add(-time.Hour)
	mk := func(id string, offset time.Duration, status Status) {
		t.Helper()
		req := &Request{
			ID:               id,
			RequesterKey:     "guest_list",
			RequesterName:    "Guest User",
			RequesterContact: "guest",
			Kind:             KindImage,
			Prompt:           "p",
			Status:           status,
			CreatedAt:        base.Add(offset),
		}
		if err := repo.Create(context.Background(), req); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	mk("01AAAAAAAAAAAAAAAAAAAAAAAA", 0, StatusPending)
	mk("01BBBBBBBBBBBBBBBBBBBBBBBB", time.Minute, StatusCompleted)
	mk("01CCCCCCCCCCCCCCCCCCCCCCCC", 2*time.Minute, StatusPending)
	mk("01DDDDDDDDDDDDDDDDDDDDDDDD", 3*time.Minute, StatusPending)

	items, err := svc.ListPending(context.Background(), admin, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(items))
	}
	wantOrder := []string{"01DDDDDDDDDDDDDDDDDDDDDDDD", "01CCCCCCCCCCCCCCCCCCCCCCCC", "01AAAAAAAAAAAAAAAAAAAAAAAA"}
	for i, want := range wantOrder {
		if items[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, items[i].ID)
		}
	}
}

func TestGet_HidesForeignRequests(t *testing.T) {
	svc, _, _, _ := newTestService(t, 2)
	a := guestIdent("guest_A")
	b := guestIdent("guest_B")

	created, err := svc.Submit(context.Background(), a, KindImage, "a cat", 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := svc.Get(context.Background(), b, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign reader, got %v", err)
	}
	if _, err := svc.Get(context.Background(), a, created.ID); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := svc.Get(context.Background(), adminIdent(), created.ID); err != nil {
		t.Fatalf("admin read: %v", err)
	}
}
