package contract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/geraldochiquemba2/biva-imobiliria-sub001/apperr"
	"github.com/geraldochiquemba2/biva-imobiliria-sub001/auth"
	"github.com/geraldochiquemba2/biva-imobiliria-sub001/property"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Notice is a per-user notification emitted alongside a transition.
type Notice struct {
	UserID     string
	Kind       string
	Body       string
	ContractID string
	PropertyID string
}

// NotificationWriter persists notices inside the transition's transaction.
type NotificationWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, n Notice) error
}

// Service is the contract lifecycle engine. Signature application is
// serialized per contract through the row lock taken by GetForUpdate; the
// contract-status write and the property-availability write-back always
// commit in the same transaction.
type Service struct {
	pool        TxBeginner
	repo        Repository
	notifier    NotificationWriter
	validate    *validator.Validate
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, notifier NotificationWriter) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		notifier:    notifier,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create opens a contract against an approved, available property. The
// counterparty may be addressed by id or phone. A missing counterparty BI is
// tolerated here; it only blocks the later transition to active.
func (s *Service) Create(ctx context.Context, actor auth.User, params CreateParams) (CreateResult, error) {
	if err := s.validateTerms(params.Terms); err != nil {
		return CreateResult{}, err
	}
	if params.CounterpartyID == "" && params.CounterpartyPhone == "" {
		return CreateResult{}, apperr.Validation("counterparty id or phone is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CreateResult{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	prop, err := s.repo.PropertyForUpdate(ctx, tx, params.PropertyID)
	if err != nil {
		if errors.Is(err, ErrPropertyNotFound) {
			return CreateResult{}, apperr.NotFound("property %s not found", params.PropertyID)
		}
		return CreateResult{}, err
	}

	if actor.ID != prop.OwnerID && !auth.HasRole(actor, auth.RoleBroker) {
		return CreateResult{}, apperr.Authorization("caller is not the property owner")
	}
	if prop.ApprovalStatus != property.ApprovalApproved {
		return CreateResult{}, apperr.InvalidState("property %s is not approved", prop.ID)
	}
	if prop.AvailabilityStatus != property.AvailabilityAvailable {
		return CreateResult{}, apperr.InvalidState("property %s is %s", prop.ID, prop.AvailabilityStatus)
	}
	if wanted := typeForProperty(prop.TransactionType); params.Terms.Type != wanted {
		return CreateResult{}, apperr.Validation("property %s requires a %s contract", prop.ID, wanted)
	}

	counterparty, err := s.resolveCounterparty(ctx, tx, params)
	if err != nil {
		return CreateResult{}, err
	}
	if counterparty.ID == prop.OwnerID {
		return CreateResult{}, apperr.Validation("counterparty cannot be the property owner")
	}

	rec, err := s.repo.Insert(ctx, tx, Contract{
		ID:             s.idGenerator(),
		PropertyID:     prop.ID,
		OwnerID:        prop.OwnerID,
		CounterpartyID: counterparty.ID,
		Type:           params.Terms.Type,
		Value:          params.Terms.Value,
		StartDate:      params.Terms.StartDate,
		EndDate:        params.Terms.EndDate,
		Content:        params.Terms.Content,
		Status:         StatusPendingSignatures,
	})
	if err != nil {
		if errors.Is(err, ErrLiveContractExists) {
			return CreateResult{}, apperr.Conflict("property %s already has a live contract", prop.ID)
		}
		return CreateResult{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, rec.ID, EventCreated, &actor.ID, map[string]any{
		"property_id":     rec.PropertyID,
		"contract_type":   rec.Type,
		"value":           rec.Value,
		"counterparty_id": rec.CounterpartyID,
	}); err != nil {
		return CreateResult{}, err
	}

	if err := s.notify(ctx, tx, Notice{
		UserID:     rec.CounterpartyID,
		Kind:       "contract.created",
		Body:       "Foi criado um contrato em seu nome; assine para o activar.",
		ContractID: rec.ID,
		PropertyID: rec.PropertyID,
	}); err != nil {
		return CreateResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CreateResult{}, fmt.Errorf("contract: commit create: %w", err)
	}

	return CreateResult{
		Contract:              rec,
		CounterpartyBIMissing: !counterparty.HasIdentityDocument(),
	}, nil
}

// Sign records one party's signature. When the other signature is already
// present the contract activates and the property is marked rented or sold in
// the same transaction.
func (s *Service) Sign(ctx context.Context, actor auth.User, contractID, signaturePayload string) (Contract, error) {
	if strings.TrimSpace(signaturePayload) == "" {
		return Contract{}, apperr.Validation("signature payload is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Contract{}, apperr.NotFound("contract %s not found", contractID)
		}
		return Contract{}, err
	}

	party, ok := rec.PartyOf(actor.ID)
	if !ok {
		return Contract{}, apperr.Authorization("caller is not a party to contract %s", contractID)
	}
	if !rec.Status.Signable() {
		return Contract{}, apperr.InvalidState("contract %s is %s and can no longer be signed", contractID, rec.Status)
	}
	if rec.SignedBy(party) {
		return Contract{}, apperr.InvalidState("contract %s already signed by %s", contractID, party)
	}

	signer, err := s.repo.UserByID(ctx, tx, actor.ID)
	if err != nil {
		return Contract{}, err
	}
	if !signer.HasIdentityDocument() {
		return Contract{}, apperr.Precondition("missing BI/passport: record your identity document before signing")
	}

	next := singleSignedStatus(party)
	otherSigned := rec.SignedBy(otherParty(party))
	if otherSigned {
		next = StatusActive
	}

	updated, err := s.repo.RecordSignature(ctx, tx, contractID, party, signaturePayload, next)
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			return Contract{}, apperr.Conflict("contract %s changed concurrently", contractID)
		}
		return Contract{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, rec.ID, EventSigned, &actor.ID, map[string]any{
		"party":  party,
		"status": updated.Status,
	}); err != nil {
		return Contract{}, err
	}

	if updated.Status == StatusActive {
		if err := s.repo.SetPropertyAvailability(ctx, tx, rec.PropertyID, availabilityFor(rec.Type)); err != nil {
			return Contract{}, err
		}
		if err := s.repo.AppendEvent(ctx, tx, rec.ID, EventActivated, &actor.ID, map[string]any{
			"availability": availabilityFor(rec.Type),
		}); err != nil {
			return Contract{}, err
		}
		for _, userID := range []string{rec.OwnerID, rec.CounterpartyID} {
			if err := s.notify(ctx, tx, Notice{
				UserID:     userID,
				Kind:       "contract.active",
				Body:       "O contrato foi assinado por ambas as partes e está activo.",
				ContractID: rec.ID,
				PropertyID: rec.PropertyID,
			}); err != nil {
				return Contract{}, err
			}
		}
	} else {
		other := rec.CounterpartyID
		if party == PartyCounterparty {
			other = rec.OwnerID
		}
		if err := s.notify(ctx, tx, Notice{
			UserID:     other,
			Kind:       "contract.signed",
			Body:       "A outra parte assinou o contrato; falta a sua assinatura.",
			ContractID: rec.ID,
			PropertyID: rec.PropertyID,
		}); err != nil {
			return Contract{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit sign: %w", err)
	}
	return updated, nil
}

// Cancel moves a non-terminal contract to cancelled. Cancelling an active
// contract returns the property to the market.
func (s *Service) Cancel(ctx context.Context, actor auth.User, contractID string, reason *string) (Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Contract{}, apperr.NotFound("contract %s not found", contractID)
		}
		return Contract{}, err
	}

	if _, isParty := rec.PartyOf(actor.ID); !isParty && !auth.CanModerate(actor) {
		return Contract{}, apperr.Authorization("caller may not cancel contract %s", contractID)
	}
	if rec.Status.Terminal() {
		return Contract{}, apperr.InvalidState("contract %s is already %s", contractID, rec.Status)
	}

	if reason != nil {
		trimmed := strings.TrimSpace(*reason)
		if trimmed == "" {
			reason = nil
		} else {
			reason = &trimmed
		}
	}

	wasActive := rec.Status == StatusActive
	updated, err := s.repo.UpdateStatus(ctx, tx, contractID, StatusCancelled, reason)
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			return Contract{}, apperr.Conflict("contract %s changed concurrently", contractID)
		}
		return Contract{}, err
	}

	if wasActive {
		if err := s.repo.SetPropertyAvailability(ctx, tx, rec.PropertyID, property.AvailabilityAvailable); err != nil {
			return Contract{}, err
		}
	}

	payload := map[string]any{"was_active": wasActive}
	if reason != nil {
		payload["reason"] = *reason
	}
	if err := s.repo.AppendEvent(ctx, tx, rec.ID, EventCancelled, &actor.ID, payload); err != nil {
		return Contract{}, err
	}

	for _, userID := range []string{rec.OwnerID, rec.CounterpartyID} {
		if userID == actor.ID {
			continue
		}
		if err := s.notify(ctx, tx, Notice{
			UserID:     userID,
			Kind:       "contract.cancelled",
			Body:       "O contrato foi cancelado.",
			ContractID: rec.ID,
			PropertyID: rec.PropertyID,
		}); err != nil {
			return Contract{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit cancel: %w", err)
	}
	return updated, nil
}

// Complete closes out an active contract and returns the property to the
// market. Owners and admins may complete at any time; the counterparty only
// once a rental's end date has passed.
func (s *Service) Complete(ctx context.Context, actor auth.User, contractID string) (Contract, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, contractID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Contract{}, apperr.NotFound("contract %s not found", contractID)
		}
		return Contract{}, err
	}

	if rec.Status != StatusActive {
		return Contract{}, apperr.InvalidState("contract %s is %s, only active contracts can be completed", contractID, rec.Status)
	}

	party, isParty := rec.PartyOf(actor.ID)
	switch {
	case auth.CanModerate(actor), isParty && party == PartyOwner:
		// always allowed
	case isParty && party == PartyCounterparty:
		if rec.Type != TypeRental || rec.EndDate == nil || s.now().Before(*rec.EndDate) {
			return Contract{}, apperr.Authorization("counterparty may only complete a rental past its end date")
		}
	default:
		return Contract{}, apperr.Authorization("caller may not complete contract %s", contractID)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, contractID, StatusCompleted, nil)
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			return Contract{}, apperr.Conflict("contract %s changed concurrently", contractID)
		}
		return Contract{}, err
	}

	if err := s.repo.SetPropertyAvailability(ctx, tx, rec.PropertyID, property.AvailabilityAvailable); err != nil {
		return Contract{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, rec.ID, EventCompleted, &actor.ID, nil); err != nil {
		return Contract{}, err
	}
	for _, userID := range []string{rec.OwnerID, rec.CounterpartyID} {
		if userID == actor.ID {
			continue
		}
		if err := s.notify(ctx, tx, Notice{
			UserID:     userID,
			Kind:       "contract.completed",
			Body:       "O contrato foi concluído.",
			ContractID: rec.ID,
			PropertyID: rec.PropertyID,
		}); err != nil {
			return Contract{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Contract{}, fmt.Errorf("contract: commit complete: %w", err)
	}
	return updated, nil
}

// ListForUser returns the contracts where userID is a party. Callers may
// only list their own contracts unless they hold the admin role.
func (s *Service) ListForUser(ctx context.Context, actor auth.User, userID string) ([]Contract, error) {
	if actor.ID != userID && !auth.CanModerate(actor) {
		return nil, apperr.Authorization("caller may only list own contracts")
	}
	return s.repo.ListForUser(ctx, userID)
}

// ListForProperty returns a property's contract history. Non-admin callers
// only see contracts they are a party to.
func (s *Service) ListForProperty(ctx context.Context, actor auth.User, propertyID string) ([]Contract, error) {
	all, err := s.repo.ListForProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if auth.CanModerate(actor) {
		return all, nil
	}
	out := make([]Contract, 0, len(all))
	for _, c := range all {
		if _, isParty := c.PartyOf(actor.ID); isParty {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) resolveCounterparty(ctx context.Context, tx pgx.Tx, params CreateParams) (PartyInfo, error) {
	var (
		info PartyInfo
		err  error
	)
	if params.CounterpartyID != "" {
		info, err = s.repo.UserByID(ctx, tx, params.CounterpartyID)
	} else {
		info, err = s.repo.UserByPhone(ctx, tx, params.CounterpartyPhone)
	}
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return PartyInfo{}, apperr.NotFound("counterparty not found")
		}
		return PartyInfo{}, err
	}
	return info, nil
}

func (s *Service) validateTerms(t Terms) error {
	if err := s.validate.Struct(t); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) {
			names := make([]string, 0, len(fields))
			for _, f := range fields {
				names = append(names, f.Field())
			}
			return apperr.Validation("invalid contract terms: %s", strings.Join(names, ", "))
		}
		return fmt.Errorf("contract: validate terms: %w", err)
	}

	switch t.Type {
	case TypeRental:
		if t.EndDate == nil {
			return apperr.Validation("rental contracts require an end date")
		}
		if !t.EndDate.After(t.StartDate) {
			return apperr.Validation("end date must be after start date")
		}
	case TypeSale:
		if t.EndDate != nil {
			return apperr.Validation("sale contracts must not carry an end date")
		}
	}
	return nil
}

func (s *Service) notify(ctx context.Context, tx pgx.Tx, n Notice) error {
	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.Enqueue(ctx, tx, n); err != nil {
		return fmt.Errorf("contract: enqueue notification: %w", err)
	}
	return nil
}

func singleSignedStatus(p Party) Status {
	if p == PartyOwner {
		return StatusSignedByOwner
	}
	return StatusSignedByCounterparty
}

func otherParty(p Party) Party {
	if p == PartyOwner {
		return PartyCounterparty
	}
	return PartyOwner
}

func availabilityFor(t Type) property.AvailabilityStatus {
	if t == TypeSale {
		return property.AvailabilitySold
	}
	return property.AvailabilityRented
}

func typeForProperty(t property.TransactionType) Type {
	if t == property.TransactionSale {
		return TypeSale
	}
	return TypeRental
}
