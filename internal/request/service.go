package request

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/mouseland/aistudio/internal/common"
	"github.com/mouseland/aistudio/internal/identity"
	"github.com/mouseland/aistudio/internal/quota"
)

// Broadcaster fans a change notification out to live subscribers.
// Satisfied by *sse.Hub.
type Broadcaster interface {
	PublishTopic(topic string, msg []byte)
}

// EventPublisher pushes submission events to the notification queue.
// Satisfied by *rabbitmq.Publisher.
type EventPublisher interface {
	PublishSubmitted(ctx context.Context, requestID string) error
}

// PendingTopic is the live-view topic carrying the admin backlog.
const PendingTopic = "pending"

// RequesterTopic is the live-view topic carrying one identity's requests.
func RequesterTopic(requesterKey string) string {
	return "requester:" + requesterKey
}

type Service struct {
	repo      *Repo
	ledger    quota.Ledger
	hub       Broadcaster
	publisher EventPublisher
}

// NewService wires the queue. hub and publisher may be nil; submission
// then still succeeds, without live fan-out or queue events.
func NewService(repo *Repo, ledger quota.Ledger, hub Broadcaster, publisher EventPublisher) *Service {
	return &Service{repo: repo, ledger: ledger, hub: hub, publisher: publisher}
}

// Submit validates, charges the guest quota, and writes the pending
// record. Validation runs fully before the single insert so a rejected
// submission never leaves a partial row. The quota decrement is not
// rolled back if the insert fails afterwards; that inconsistency is
// accepted rather than hidden behind a distributed transaction.
func (s *Service) Submit(ctx context.Context, ident identity.Identity, kind Kind, prompt string, videoDuration int) (*Request, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if utf8.RuneCountInString(prompt) > MaxPromptRunes {
		return nil, ErrPromptTooLong
	}

	var duration *int
	switch kind {
	case KindImage:
		if videoDuration != 0 {
			return nil, ErrInvalidDuration
		}
	case KindVideo:
		if !validDuration(videoDuration) {
			return nil, ErrInvalidDuration
		}
		d := videoDuration
		duration = &d
	default:
		return nil, ErrInvalidKind
	}

	if _, err := s.ledger.Consume(ctx, ident, string(kind)); err != nil {
		if errors.Is(err, quota.ErrExceeded) {
			return nil, ErrQuotaExceeded
		}
		return nil, fmt.Errorf("consume quota: %w", err)
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	req := &Request{
		ID:               id,
		RequesterKey:     ident.Key,
		RequesterName:    ident.Name,
		RequesterContact: ident.Contact,
		Kind:             kind,
		VideoDuration:    duration,
		Prompt:           prompt,
		Status:           StatusPending,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	s.notifyChanged(req)
	if s.publisher != nil {
		// best-effort: the record is durable already, the event only
		// feeds operator notifications
		if err := s.publisher.PublishSubmitted(ctx, req.ID); err != nil {
			log.Printf("publish submitted event failed request=%s err=%v", req.ID, err)
		}
	}
	return req, nil
}

// Remaining reports the caller's allowance for one kind without charging it.
func (s *Service) Remaining(ctx context.Context, ident identity.Identity, kind Kind) (int, error) {
	return s.ledger.Remaining(ctx, ident, string(kind))
}

// Get returns one request, visible only to its requester or an admin.
func (s *Service) Get(ctx context.Context, ident identity.Identity, id string) (*Request, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if req.RequesterKey != ident.Key && !ident.IsAdmin() {
		// hide existence
		return nil, ErrNotFound
	}
	return req, nil
}

// ListMine returns the caller's own requests newest first.
func (s *Service) ListMine(ctx context.Context, ident identity.Identity, limit int) ([]Request, error) {
	return s.repo.ListByRequester(ctx, ident.Key, limit)
}

// ListPending returns the open backlog, admin only. Tier is re-checked
// here on every call rather than cached by the caller.
func (s *Service) ListPending(ctx context.Context, ident identity.Identity, limit int) ([]Request, error) {
	if !ident.IsAdmin() {
		return nil, ErrUnauthorized
	}
	return s.repo.ListPending(ctx, limit)
}

// Fulfill transitions one pending request to completed with the operator's
// result artifact. The transition is a conditional update keyed on the
// prior status, so two admins racing on the same request cannot both win;
// the loser sees ErrAlreadyClosed and the stored ResultURI is untouched.
func (s *Service) Fulfill(ctx context.Context, ident identity.Identity, id, resultURI string) (*Request, error) {
	if !ident.IsAdmin() {
		return nil, ErrUnauthorized
	}
	rows, err := s.repo.CompleteIfPending(ctx, id, resultURI)
	if err != nil {
		return nil, fmt.Errorf("complete request: %w", err)
	}
	if rows == 0 {
		if _, err := s.repo.GetByID(ctx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		return nil, ErrAlreadyClosed
	}
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notifyChanged(req)
	return req, nil
}

// Reject transitions one pending request to failed with an operator-supplied
// reason, under the same conditional-update guard as Fulfill.
func (s *Service) Reject(ctx context.Context, ident identity.Identity, id, reason string) (*Request, error) {
	if !ident.IsAdmin() {
		return nil, ErrUnauthorized
	}
	rows, err := s.repo.FailIfPending(ctx, id, reason)
	if err != nil {
		return nil, fmt.Errorf("fail request: %w", err)
	}
	if rows == 0 {
		if _, err := s.repo.GetByID(ctx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		return nil, ErrAlreadyClosed
	}
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notifyChanged(req)
	return req, nil
}

func (s *Service) notifyChanged(req *Request) {
	if s.hub == nil {
		return
	}
	// subscribers re-query their snapshot; the payload is just the id
	s.hub.PublishTopic(RequesterTopic(req.RequesterKey), []byte(req.ID))
	s.hub.PublishTopic(PendingTopic, []byte(req.ID))
}
