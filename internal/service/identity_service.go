package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"forum-api/internal/events"
	"forum-api/internal/model"
	"forum-api/internal/repository"
)

var (
	ErrIdentityTypeInvalid = errors.New("invalid identity type")
	ErrIdentityPending     = errors.New("you already have a pending verification for this identity type")
	ErrIdentityApproved    = errors.New("you are already verified for this identity type")
	ErrIdentityNotFound    = errors.New("verification request not found")
	ErrIdentityNotPending  = errors.New("verification request is not pending")
	ErrIdentityNotApproved = errors.New("only approved verifications can be revoked")
	ErrReasonRequired      = errors.New("a reason is required")
	ErrInvalidExpiry       = errors.New("expires_days must be positive")
)

type IdentityService interface {
	ListTypes(ctx context.Context) ([]model.IdentityType, error)
	Request(ctx context.Context, userID uuid.UUID, typeID int, documentIDs []uuid.UUID, notes string) (*model.UserIdentity, error)
	Update(ctx context.Context, userID, identityID uuid.UUID, documentIDs *[]uuid.UUID, notes *string) (*model.UserIdentity, error)
	MyRequests(ctx context.Context, userID uuid.UUID) ([]model.UserIdentity, error)
	MyVerified(ctx context.Context, userID uuid.UUID) ([]model.UserIdentity, error)
	ListPending(ctx context.Context) ([]model.UserIdentity, error)
	Approve(ctx context.Context, adminID, identityID uuid.UUID, expiresDays *int, notes *string) (*model.UserIdentity, error)
	Reject(ctx context.Context, adminID, identityID uuid.UUID, reason string, notes *string) (*model.UserIdentity, error)
	Revoke(ctx context.Context, adminID, identityID uuid.UUID, reason string, notes *string) (*model.UserIdentity, error)
}

type identityService struct {
	repo      repository.IdentityRepository
	files     repository.FileRepository
	publisher events.EventPublisher
	now       func() time.Time
}

func NewIdentityService(repo repository.IdentityRepository, files repository.FileRepository, publisher events.EventPublisher) IdentityService {
	return &identityService{repo: repo, files: files, publisher: publisher, now: time.Now}
}

func (s *identityService) ListTypes(ctx context.Context) ([]model.IdentityType, error) {
	return s.repo.ListActiveTypes(ctx)
}

func (s *identityService) Request(ctx context.Context, userID uuid.UUID, typeID int, documentIDs []uuid.UUID, notes string) (*model.UserIdentity, error) {
	identityType, err := s.repo.FindType(ctx, typeID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrIdentityTypeInvalid
		}
		return nil, err
	}
	if !identityType.IsActive {
		return nil, ErrIdentityTypeInvalid
	}

	existing, err := s.repo.FindByUserAndType(ctx, userID, typeID)
	if err != nil && !repository.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case model.IdentityPending:
			return nil, ErrIdentityPending
		case model.IdentityApproved:
			return nil, ErrIdentityApproved
		}
	}

	docs, err := s.documents(ctx, userID, documentIDs)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if err := s.repo.Resubmit(ctx, existing.ID, docs, optional(notes)); err != nil {
			return nil, fmt.Errorf("resubmit identity: %w", err)
		}
		return s.repo.FindByID(ctx, existing.ID)
	}

	identity := &model.UserIdentity{
		UserID:         userID,
		IdentityTypeID: typeID,
		Status:         model.IdentityPending,
		Documents:      docs,
		Notes:          optional(notes),
	}
	if err := s.repo.Create(ctx, identity); err != nil {
		if _, ok := repository.UniqueViolation(err); ok {
			return nil, ErrIdentityPending
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return s.repo.FindByID(ctx, identity.ID)
}

func (s *identityService) Update(ctx context.Context, userID, identityID uuid.UUID, documentIDs *[]uuid.UUID, notes *string) (*model.UserIdentity, error) {
	identity, err := s.owned(ctx, userID, identityID)
	if err != nil {
		return nil, err
	}
	if identity.Status != model.IdentityPending {
		return nil, ErrIdentityNotPending
	}

	docs := identity.Documents
	if documentIDs != nil {
		if docs, err = s.documents(ctx, userID, *documentIDs); err != nil {
			return nil, err
		}
	}
	if notes == nil {
		notes = identity.Notes
	}

	if err := s.repo.UpdateRequest(ctx, identity.ID, docs, notes); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrIdentityNotPending
		}
		return nil, fmt.Errorf("update identity: %w", err)
	}
	return s.repo.FindByID(ctx, identity.ID)
}

func (s *identityService) MyRequests(ctx context.Context, userID uuid.UUID) ([]model.UserIdentity, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *identityService) MyVerified(ctx context.Context, userID uuid.UUID) ([]model.UserIdentity, error) {
	return s.repo.ListActiveByUser(ctx, userID, s.now())
}

func (s *identityService) ListPending(ctx context.Context) ([]model.UserIdentity, error) {
	return s.repo.ListPending(ctx)
}

func (s *identityService) Approve(ctx context.Context, adminID, identityID uuid.UUID, expiresDays *int, notes *string) (*model.UserIdentity, error) {
	now := s.now()
	d := repository.Decision{Status: model.IdentityApproved, AdminID: adminID, Notes: notes, At: now}
	if expiresDays != nil {
		if *expiresDays <= 0 {
			return nil, ErrInvalidExpiry
		}
		exp := now.AddDate(0, 0, *expiresDays)
		d.ExpiresAt = &exp
	}
	return s.decide(ctx, identityID, model.IdentityPending, ErrIdentityNotPending, d)
}

func (s *identityService) Reject(ctx context.Context, adminID, identityID uuid.UUID, reason string, notes *string) (*model.UserIdentity, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	d := repository.Decision{Status: model.IdentityRejected, AdminID: adminID, Reason: &reason, Notes: notes, At: s.now()}
	return s.decide(ctx, identityID, model.IdentityPending, ErrIdentityNotPending, d)
}

func (s *identityService) Revoke(ctx context.Context, adminID, identityID uuid.UUID, reason string, notes *string) (*model.UserIdentity, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	d := repository.Decision{Status: model.IdentityRevoked, AdminID: adminID, Reason: &reason, Notes: notes, At: s.now()}
	return s.decide(ctx, identityID, model.IdentityApproved, ErrIdentityNotApproved, d)
}

func (s *identityService) decide(ctx context.Context, identityID uuid.UUID, from string, wrongState error, d repository.Decision) (*model.UserIdentity, error) {
	identity, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	if identity.Status != from {
		return nil, wrongState
	}

	if err := s.repo.Decide(ctx, identityID, from, d); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// someone else decided first
			return nil, wrongState
		}
		return nil, fmt.Errorf("apply decision: %w", err)
	}

	updated, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		return nil, err
	}

	event := events.IdentityReviewedEvent{
		IdentityID:   updated.ID,
		UserID:       updated.UserID,
		IdentityType: updated.DisplayName,
		Status:       updated.Status,
		ExpiresAt:    updated.ExpiresAt,
	}
	if d.Reason != nil {
		event.Reason = *d.Reason
	}
	if err := s.publisher.PublishIdentityReviewed(ctx, event); err != nil {
		slog.WarnContext(ctx, "identity review event not published", "identity_id", updated.ID, "error", err)
	}

	return updated, nil
}

func (s *identityService) owned(ctx context.Context, userID, identityID uuid.UUID) (*model.UserIdentity, error) {
	identity, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	if identity.UserID != userID {
		return nil, ErrIdentityNotFound
	}
	return identity, nil
}

// documents keeps only files owned by userID that still exist, in request order.
func (s *identityService) documents(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (model.Documents, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	files, err := s.files.FindOwned(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	byID := make(map[uuid.UUID]model.File, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}

	var docs model.Documents
	seen := map[uuid.UUID]bool{}
	for _, id := range ids {
		f, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		docs = append(docs, model.VerificationDocument{
			FileID:     f.ID,
			Filename:   f.OriginalFilename,
			UploadedAt: f.CreatedAt,
		})
	}
	return docs, nil
}
