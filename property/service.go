package property

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/geraldochiquemba2/biva-imobiliria-sub001/apperr"
	"github.com/geraldochiquemba2/biva-imobiliria-sub001/auth"
)

// Service is the approval workflow engine. All legality decisions about the
// pending/approved/rejected state machine live here and in the conditional
// repository updates; no other component decides transitions.
type Service struct {
	repo     Repository
	validate *validator.Validate
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Submit stores a new listing draft; the approval status is always forced to
// pending regardless of caller input.
func (s *Service) Submit(ctx context.Context, owner auth.User, d Draft) (Property, error) {
	if !auth.HasRole(owner, auth.RoleOwner) && !auth.HasRole(owner, auth.RoleBroker) {
		return Property{}, apperr.Authorization("only owners and brokers may submit listings")
	}
	if err := s.validateDraft(d); err != nil {
		return Property{}, err
	}

	prop, err := s.repo.Insert(ctx, owner.ID, d)
	if err != nil {
		return Property{}, fmt.Errorf("property: submit: %w", err)
	}
	return prop, nil
}

// Approve publishes a pending listing. Requires the admin role and the
// pending precondition; a duplicate approval surfaces as invalid state so the
// UI can treat it as "already handled".
func (s *Service) Approve(ctx context.Context, admin auth.User, propertyID string) (Property, error) {
	if !auth.CanModerate(admin) {
		return Property{}, apperr.Authorization("caller lacks admin role")
	}

	prop, err := s.repo.Approve(ctx, propertyID)
	if err != nil {
		return Property{}, mapModerationErr(err, propertyID)
	}
	return prop, nil
}

// Reject declines a pending listing with a mandatory moderation message.
func (s *Service) Reject(ctx context.Context, admin auth.User, propertyID, message string) (Property, error) {
	if !auth.CanModerate(admin) {
		return Property{}, apperr.Authorization("caller lacks admin role")
	}
	if strings.TrimSpace(message) == "" {
		return Property{}, apperr.Validation("rejection message is required")
	}

	prop, err := s.repo.Reject(ctx, propertyID, strings.TrimSpace(message))
	if err != nil {
		return Property{}, mapModerationErr(err, propertyID)
	}
	return prop, nil
}

// AcknowledgeRejection records that the owner has seen the rejection message,
// unlocking the edit operation. The approval status itself stays rejected.
func (s *Service) AcknowledgeRejection(ctx context.Context, actor auth.User, propertyID string) (Property, error) {
	prop, err := s.ownedProperty(ctx, actor, propertyID)
	if err != nil {
		return Property{}, err
	}
	if prop.ApprovalStatus != ApprovalRejected {
		return Property{}, apperr.InvalidState("property %s is %s, not rejected", propertyID, prop.ApprovalStatus)
	}

	updated, err := s.repo.Acknowledge(ctx, propertyID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return Property{}, apperr.NotFound("property %s not found", propertyID)
		case errors.Is(err, ErrNotRejected):
			return Property{}, apperr.InvalidState("property %s is no longer rejected", propertyID)
		default:
			return Property{}, fmt.Errorf("property: acknowledge rejection: %w", err)
		}
	}
	return updated, nil
}

// ResubmitAfterEdit applies an owner edit and resets the listing to pending
// for re-moderation. Edits to approved listings also pass through here so
// every change is re-reviewed. A rejection must be acknowledged first.
func (s *Service) ResubmitAfterEdit(ctx context.Context, actor auth.User, propertyID string, d Draft) (Property, error) {
	prop, err := s.ownedProperty(ctx, actor, propertyID)
	if err != nil {
		return Property{}, err
	}
	if prop.EditLocked() {
		return Property{}, apperr.InvalidState("rejection must be acknowledged before editing property %s", propertyID)
	}
	if err := s.validateDraft(d); err != nil {
		return Property{}, err
	}

	updated, err := s.repo.Resubmit(ctx, propertyID, d)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return Property{}, apperr.NotFound("property %s not found", propertyID)
		case errors.Is(err, ErrEditLocked):
			return Property{}, apperr.InvalidState("property %s cannot be edited in its current state", propertyID)
		default:
			return Property{}, fmt.Errorf("property: resubmit after edit: %w", err)
		}
	}
	return updated, nil
}

// Delete removes a listing. Properties referenced by a live contract cannot
// be deleted; contract history blocks deletion too since terminal contracts
// are retained for audit.
func (s *Service) Delete(ctx context.Context, actor auth.User, propertyID string) error {
	if _, err := s.ownedProperty(ctx, actor, propertyID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, propertyID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return apperr.NotFound("property %s not found", propertyID)
		case errors.Is(err, ErrUnderContract):
			return apperr.Conflict("property %s has a live contract", propertyID)
		case errors.Is(err, ErrContractHistory):
			return apperr.InvalidState("property %s has contract history and cannot be deleted", propertyID)
		default:
			return fmt.Errorf("property: delete: %w", err)
		}
	}
	return nil
}

// Get returns a listing, hiding non-public listings from everyone but the
// owner and moderators.
func (s *Service) Get(ctx context.Context, actor auth.User, propertyID string) (Property, error) {
	prop, err := s.repo.Get(ctx, propertyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Property{}, apperr.NotFound("property %s not found", propertyID)
		}
		return Property{}, fmt.Errorf("property: get: %w", err)
	}
	if !prop.PubliclyVisible() && !IsOwnedBy(prop, actor.ID) && !auth.CanModerate(actor) {
		return Property{}, apperr.NotFound("property %s not found", propertyID)
	}
	return prop, nil
}

// ListPublic returns approved, available listings.
func (s *Service) ListPublic(ctx context.Context, f Filters) ([]Property, int, error) {
	return s.repo.ListPublic(ctx, f)
}

// ListMine returns all of the caller's own listings regardless of state.
func (s *Service) ListMine(ctx context.Context, actor auth.User) ([]Property, error) {
	return s.repo.ListByOwner(ctx, actor.ID)
}

// ListPendingReview returns the moderation queue.
func (s *Service) ListPendingReview(ctx context.Context, admin auth.User) ([]Property, error) {
	if !auth.CanModerate(admin) {
		return nil, apperr.Authorization("caller lacks admin role")
	}
	return s.repo.ListPendingReview(ctx)
}

func (s *Service) ownedProperty(ctx context.Context, actor auth.User, propertyID string) (Property, error) {
	prop, err := s.repo.Get(ctx, propertyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Property{}, apperr.NotFound("property %s not found", propertyID)
		}
		return Property{}, fmt.Errorf("property: get: %w", err)
	}
	if !IsOwnedBy(prop, actor.ID) {
		return Property{}, apperr.Authorization("caller does not own property %s", propertyID)
	}
	return prop, nil
}

func (s *Service) validateDraft(d Draft) error {
	if err := s.validate.Struct(d); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) {
			missing := make([]string, 0, len(fields))
			for _, f := range fields {
				missing = append(missing, f.Field())
			}
			return apperr.Validation("invalid listing draft: %s", strings.Join(missing, ", "))
		}
		return fmt.Errorf("property: validate draft: %w", err)
	}
	return nil
}

func mapModerationErr(err error, propertyID string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("property %s not found", propertyID)
	case errors.Is(err, ErrNotPending):
		return apperr.InvalidState("property %s already handled", propertyID)
	default:
		return fmt.Errorf("property: moderation: %w", err)
	}
}
