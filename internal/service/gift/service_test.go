package gift_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/service/gift"
)

// memRepo is an in-memory gift repository for unit testing.
type memRepo struct {
	mu    sync.Mutex
	gifts map[string]*domain.ScheduledGift
}

func newMemRepo() *memRepo {
	return &memRepo{gifts: make(map[string]*domain.ScheduledGift)}
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.ScheduledGift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[id]
	if !ok {
		return nil, gift.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memRepo) ListForUser(_ context.Context, userID string, _ int) ([]domain.ScheduledGift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduledGift
	for _, g := range m.gifts {
		if g.UserID == userID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *memRepo) Create(_ context.Context, g *domain.ScheduledGift) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == "" {
		return "", fmt.Errorf("id required")
	}
	cp := *g
	m.gifts[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memRepo) SetStatus(_ context.Context, id string, status domain.GiftStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[id]
	if !ok {
		return gift.ErrNotFound
	}
	g.Status = status
	return nil
}

type memRecipients struct {
	recipients map[string]*domain.Recipient
}

func (m *memRecipients) Recipient(_ context.Context, id string) (*domain.Recipient, error) {
	r, ok := m.recipients[id]
	if !ok {
		return nil, gift.ErrRecipientNotFound
	}
	cp := *r
	return &cp, nil
}

type fakeReleaser struct {
	released []string
	err      error
}

func (f *fakeReleaser) ReleaseReservation(_ context.Context, giftID string) error {
	if f.err != nil {
		return f.err
	}
	f.released = append(f.released, giftID)
	return nil
}

const testUser = "user-1"

func fixture() (*memRepo, *memRecipients, *fakeReleaser, *gift.Service) {
	repo := newMemRepo()
	recipients := &memRecipients{recipients: map[string]*domain.Recipient{
		"rec-1": {
			ID: "rec-1", UserID: testUser, Name: "Maya",
			Street: "12 Oak St", City: "Portland", State: "OR",
			Zip: "97123", Country: "US",
			DefaultGiftCents: 4000,
		},
	}}
	releaser := &fakeReleaser{}
	svc := gift.NewService(repo, recipients, releaser)
	return repo, recipients, releaser, svc
}

func TestSchedule(t *testing.T) {
	_, _, _, svc := fixture()

	occasion := time.Now().UTC().AddDate(0, 1, 0)
	g, err := svc.Schedule(context.Background(), gift.ScheduleInput{
		UserID: testUser, RecipientID: "rec-1",
		OccasionDate: occasion, AutomationEnabled: true,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if g.Status != domain.GiftScheduled || g.PaymentStatus != domain.PaymentUnpaid {
		t.Fatalf("unexpected initial state %s/%s", g.Status, g.PaymentStatus)
	}
	if g.PriceCents != 4000 {
		t.Fatalf("price = %d, want 4000 from recipient default", g.PriceCents)
	}
	wantDelivery := occasion.AddDate(0, 0, -domain.DeliveryLeadDays)
	if !g.DeliveryDate.Equal(wantDelivery) {
		t.Fatalf("delivery = %v, want %v", g.DeliveryDate, wantDelivery)
	}
}

func TestSchedulePastOccasion(t *testing.T) {
	_, _, _, svc := fixture()

	_, err := svc.Schedule(context.Background(), gift.ScheduleInput{
		UserID: testUser, RecipientID: "rec-1",
		OccasionDate: time.Now().UTC().AddDate(0, 0, -1),
	})
	if err != gift.ErrPastOccasion {
		t.Fatalf("expected ErrPastOccasion, got %v", err)
	}
}

func TestScheduleWrongOwner(t *testing.T) {
	_, _, _, svc := fixture()

	_, err := svc.Schedule(context.Background(), gift.ScheduleInput{
		UserID: "someone-else", RecipientID: "rec-1",
		OccasionDate: time.Now().UTC().AddDate(0, 1, 0),
	})
	if err != gift.ErrRecipientNotFound {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
}

func TestCancelReleasesReservation(t *testing.T) {
	repo, _, releaser, svc := fixture()

	g, _ := svc.Schedule(context.Background(), gift.ScheduleInput{
		UserID: testUser, RecipientID: "rec-1",
		OccasionDate: time.Now().UTC().AddDate(0, 1, 0),
	})

	if err := svc.Cancel(context.Background(), g.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(releaser.released) != 1 || releaser.released[0] != g.ID {
		t.Fatalf("expected reservation release for %s, got %v", g.ID, releaser.released)
	}
	got, _ := repo.Get(context.Background(), g.ID)
	if got.Status != domain.GiftCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestCancelTerminal(t *testing.T) {
	repo, _, _, svc := fixture()

	g, _ := svc.Schedule(context.Background(), gift.ScheduleInput{
		UserID: testUser, RecipientID: "rec-1",
		OccasionDate: time.Now().UTC().AddDate(0, 1, 0),
	})
	repo.SetStatus(context.Background(), g.ID, domain.GiftExpired)

	if err := svc.Cancel(context.Background(), g.ID); err != gift.ErrTerminal {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
}

func TestCancelReleaseFailureKeepsGiftLive(t *testing.T) {
	repo, _, releaser, svc := fixture()
	releaser.err = fmt.Errorf("wallet down")

	g, _ := svc.Schedule(context.Background(), gift.ScheduleInput{
		UserID: testUser, RecipientID: "rec-1",
		OccasionDate: time.Now().UTC().AddDate(0, 1, 0),
	})

	if err := svc.Cancel(context.Background(), g.ID); err == nil {
		t.Fatal("expected cancel to fail when release fails")
	}
	got, _ := repo.Get(context.Background(), g.ID)
	if got.Status != domain.GiftScheduled {
		t.Fatalf("status = %s, want scheduled (unchanged)", got.Status)
	}
}
