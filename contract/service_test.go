package contract

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/geraldochiquemba2/biva-imobiliria-sub001/apperr"
	"github.com/geraldochiquemba2/biva-imobiliria-sub001/auth"
	"github.com/geraldochiquemba2/biva-imobiliria-sub001/property"
)

type testEnv struct {
	svc      *Service
	repo     *fakeContractRepo
	pool     *fakePool
	notifier *fakeNotifier
	owner    auth.User
	tenant   auth.User
	admin    auth.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := newFakeContractRepo()
	pool := &fakePool{}
	notifier := &fakeNotifier{}

	bi := "001234567LA041"
	repo.users["owner-1"] = PartyInfo{ID: "owner-1", FullName: "Adelina", Phone: "923111222", BI: &bi}
	tenantBI := "009876543LA038"
	repo.users["tenant-1"] = PartyInfo{ID: "tenant-1", FullName: "Teresa", Phone: "923333444", BI: &tenantBI}
	repo.properties["prop-1"] = PropertyInfo{
		ID:                 "prop-1",
		OwnerID:            "owner-1",
		TransactionType:    property.TransactionRent,
		ApprovalStatus:     property.ApprovalApproved,
		AvailabilityStatus: property.AvailabilityAvailable,
	}

	nextID := 0
	svc := NewService(pool, repo, notifier).
		WithIDGenerator(func() string {
			nextID++
			return fmt.Sprintf("contract-%d", nextID)
		}).
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })

	return &testEnv{
		svc:      svc,
		repo:     repo,
		pool:     pool,
		notifier: notifier,
		owner:    auth.User{ID: "owner-1", Roles: []auth.Role{auth.RoleOwner}},
		tenant:   auth.User{ID: "tenant-1", Roles: []auth.Role{auth.RoleClient}},
		admin:    auth.User{ID: "admin-1", Roles: []auth.Role{auth.RoleAdmin}},
	}
}

func rentalTerms() Terms {
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	return Terms{
		Type:      TypeRental,
		Value:     180000,
		StartDate: start,
		EndDate:   &end,
	}
}

func (e *testEnv) createContract(t *testing.T) Contract {
	t.Helper()
	res, err := e.svc.Create(context.Background(), e.owner, CreateParams{
		PropertyID:     "prop-1",
		CounterpartyID: "tenant-1",
		Terms:          rentalTerms(),
	})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	return res.Contract
}

func TestCreate_Success(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.Create(context.Background(), env.owner, CreateParams{
		PropertyID:     "prop-1",
		CounterpartyID: "tenant-1",
		Terms:          rentalTerms(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Contract.Status != StatusPendingSignatures {
		t.Fatalf("expected pending_signatures, got %s", res.Contract.Status)
	}
	if res.CounterpartyBIMissing {
		t.Fatal("counterparty has a BI; flag must be false")
	}
	if !env.pool.lastTx.committed {
		t.Fatal("expected transaction commit")
	}
	if len(env.notifier.notices) != 1 || env.notifier.notices[0].UserID != "tenant-1" {
		t.Fatalf("expected one counterparty notice, got %+v", env.notifier.notices)
	}
}

func TestCreate_CounterpartyByPhone_FlagsMissingBI(t *testing.T) {
	env := newTestEnv(t)
	env.repo.users["walkin-1"] = PartyInfo{ID: "walkin-1", FullName: "Carlos", Phone: "923555666"}

	res, err := env.svc.Create(context.Background(), env.owner, CreateParams{
		PropertyID:        "prop-1",
		CounterpartyPhone: "923555666",
		Terms:             rentalTerms(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.CounterpartyBIMissing {
		t.Fatal("expected missing-BI flag for counterparty without identity document")
	}
	if res.Contract.CounterpartyID != "walkin-1" {
		t.Fatalf("expected phone lookup to resolve walkin-1, got %s", res.Contract.CounterpartyID)
	}
}

func TestCreate_TermValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	terms := rentalTerms()
	terms.EndDate = nil
	if _, err := env.svc.Create(ctx, env.owner, CreateParams{PropertyID: "prop-1", CounterpartyID: "tenant-1", Terms: terms}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for rental without end date, got %v", err)
	}

	terms = rentalTerms()
	bad := terms.StartDate.AddDate(0, -1, 0)
	terms.EndDate = &bad
	if _, err := env.svc.Create(ctx, env.owner, CreateParams{PropertyID: "prop-1", CounterpartyID: "tenant-1", Terms: terms}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for end before start, got %v", err)
	}

	terms = rentalTerms()
	terms.Value = 0
	if _, err := env.svc.Create(ctx, env.owner, CreateParams{PropertyID: "prop-1", CounterpartyID: "tenant-1", Terms: terms}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for zero value, got %v", err)
	}

	terms = rentalTerms()
	terms.Type = TypeSale
	terms.EndDate = nil
	if _, err := env.svc.Create(ctx, env.owner, CreateParams{PropertyID: "prop-1", CounterpartyID: "tenant-1", Terms: terms}); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for sale contract on rent property, got %v", err)
	}
}

func TestCreate_NotOwner(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Create(context.Background(), env.tenant, CreateParams{
		PropertyID:     "prop-1",
		CounterpartyID: "tenant-1",
		Terms:          rentalTerms(),
	}); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestCreate_LiveContractConflict(t *testing.T) {
	env := newTestEnv(t)
	env.createContract(t)

	if _, err := env.svc.Create(context.Background(), env.owner, CreateParams{
		PropertyID:     "prop-1",
		CounterpartyID: "tenant-1",
		Terms:          rentalTerms(),
	}); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("expected conflict for second live contract, got %v", err)
	}
}

func TestCreate_UnapprovedProperty(t *testing.T) {
	env := newTestEnv(t)
	prop := env.repo.properties["prop-1"]
	prop.ApprovalStatus = property.ApprovalPending
	env.repo.properties["prop-1"] = prop

	if _, err := env.svc.Create(context.Background(), env.owner, CreateParams{
		PropertyID:     "prop-1",
		CounterpartyID: "tenant-1",
		Terms:          rentalTerms(),
	}); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("expected invalid_state for unapproved property, got %v", err)
	}
}

func TestSign_OrderIndependence(t *testing.T) {
	orders := []struct {
		name  string
		first auth.User
	}{
		{"owner first", auth.User{ID: "owner-1"}},
		{"counterparty first", auth.User{ID: "tenant-1"}},
	}

	for _, order := range orders {
		t.Run(order.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.createContract(t)
			ctx := context.Background()

			second := env.tenant
			if order.first.ID == "tenant-1" {
				second = env.owner
			}

			mid, err := env.svc.Sign(ctx, order.first, rec.ID, "sig-first")
			if err != nil {
				t.Fatalf("first sign: %v", err)
			}
			if mid.Status.Terminal() || mid.Status == StatusActive {
				t.Fatalf("one signature must not activate, got %s", mid.Status)
			}

			final, err := env.svc.Sign(ctx, second, rec.ID, "sig-second")
			if err != nil {
				t.Fatalf("second sign: %v", err)
			}
			if final.Status != StatusActive {
				t.Fatalf("expected active after both signatures, got %s", final.Status)
			}
			if final.OwnerSignature == nil || final.CounterpartySignature == nil {
				t.Fatal("active contract must carry both signatures")
			}
			if got := env.repo.properties["prop-1"].AvailabilityStatus; got != property.AvailabilityRented {
				t.Fatalf("expected property rented, got %s", got)
			}
		})
	}
}

func TestSign_SaleMarksSold(t *testing.T) {
	env := newTestEnv(t)
	prop := env.repo.properties["prop-1"]
	prop.TransactionType = property.TransactionSale
	env.repo.properties["prop-1"] = prop

	terms := rentalTerms()
	terms.Type = TypeSale
	terms.EndDate = nil
	res, err := env.svc.Create(context.Background(), env.owner, CreateParams{
		PropertyID:     "prop-1",
		CounterpartyID: "tenant-1",
		Terms:          terms,
	})
	if err != nil {
		t.Fatalf("create sale contract: %v", err)
	}

	ctx := context.Background()
	if _, err := env.svc.Sign(ctx, env.owner, res.Contract.ID, "sig-owner"); err != nil {
		t.Fatalf("owner sign: %v", err)
	}
	final, err := env.svc.Sign(ctx, env.tenant, res.Contract.ID, "sig-buyer")
	if err != nil {
		t.Fatalf("buyer sign: %v", err)
	}
	if final.Status != StatusActive {
		t.Fatalf("expected active, got %s", final.Status)
	}
	if got := env.repo.properties["prop-1"].AvailabilityStatus; got != property.AvailabilitySold {
		t.Fatalf("expected property sold, got %s", got)
	}
}

func TestSign_DoubleSignSameRole(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createContract(t)
	ctx := context.Background()

	if _, err := env.svc.Sign(ctx, env.owner, rec.ID, "sig-1"); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	if _, err := env.svc.Sign(ctx, env.owner, rec.ID, "sig-2"); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("expected invalid_state on double sign, got %v", err)
	}
	if got := env.repo.contracts[rec.ID].Status; got != StatusSignedByOwner {
		t.Fatalf("contract must remain signed_by_owner, got %s", got)
	}
}

func TestSign_MissingBIBlocksUntilRecorded(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.repo.users["tenant-1"]
	tenant.BI = nil
	env.repo.users["tenant-1"] = tenant

	rec := env.createContract(t)
	ctx := context.Background()

	if _, err := env.svc.Sign(ctx, env.tenant, rec.ID, "sig-tenant"); !apperr.IsKind(err, apperr.KindPrecondition) {
		t.Fatalf("expected precondition error for missing BI, got %v", err)
	}

	bi := "005555555LA099"
	tenant.BI = &bi
	env.repo.users["tenant-1"] = tenant

	if _, err := env.svc.Sign(ctx, env.tenant, rec.ID, "sig-tenant"); err != nil {
		t.Fatalf("sign after recording BI: %v", err)
	}
}

func TestSign_StrangerRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createContract(t)

	stranger := auth.User{ID: "someone-else"}
	if _, err := env.svc.Sign(context.Background(), stranger, rec.ID, "sig"); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestCancel_ActiveRevertsAvailability(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createContract(t)
	ctx := context.Background()

	env.svc.Sign(ctx, env.owner, rec.ID, "sig-owner")
	if _, err := env.svc.Sign(ctx, env.tenant, rec.ID, "sig-tenant"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got := env.repo.properties["prop-1"].AvailabilityStatus; got != property.AvailabilityRented {
		t.Fatalf("expected rented before cancel, got %s", got)
	}

	reason := "inquilino desistiu"
	cancelled, err := env.svc.Cancel(ctx, env.owner, rec.ID, &reason)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if got := env.repo.properties["prop-1"].AvailabilityStatus; got != property.AvailabilityAvailable {
		t.Fatalf("expected property back to available, got %s", got)
	}
}

func TestCancel_PendingDoesNotTouchAvailability(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createContract(t)

	if _, err := env.svc.Cancel(context.Background(), env.tenant, rec.ID, nil); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if got := env.repo.properties["prop-1"].AvailabilityStatus; got != property.AvailabilityAvailable {
		t.Fatalf("availability must stay available, got %s", got)
	}
}

func TestCancel_TerminalRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createContract(t)
	ctx := context.Background()

	if _, err := env.svc.Cancel(ctx, env.owner, rec.ID, nil); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if _, err := env.svc.Cancel(ctx, env.owner, rec.ID, nil); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("expected invalid_state on second cancel, got %v", err)
	}
}

func TestCancel_AdminAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createContract(t)

	if _, err := env.svc.Cancel(context.Background(), env.admin, rec.ID, nil); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
}

func TestComplete_ActiveOnly(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createContract(t)
	ctx := context.Background()

	if _, err := env.svc.Complete(ctx, env.owner, rec.ID); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Fatalf("expected invalid_state completing a pending contract, got %v", err)
	}

	env.svc.Sign(ctx, env.owner, rec.ID, "sig-owner")
	env.svc.Sign(ctx, env.tenant, rec.ID, "sig-tenant")

	// Counterparty cannot close out before the rental's end date.
	if _, err := env.svc.Complete(ctx, env.tenant, rec.ID); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization error for early counterparty close-out, got %v", err)
	}

	done, err := env.svc.Complete(ctx, env.owner, rec.ID)
	if err != nil {
		t.Fatalf("owner complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if got := env.repo.properties["prop-1"].AvailabilityStatus; got != property.AvailabilityAvailable {
		t.Fatalf("expected property available after completion, got %s", got)
	}
}

func TestListForUser_OwnOnly(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createContract(t)
	ctx := context.Background()

	list, err := env.svc.ListForUser(ctx, env.tenant, "tenant-1")
	if err != nil {
		t.Fatalf("list own: %v", err)
	}
	if len(list) != 1 || list[0].ID != rec.ID {
		t.Fatalf("expected the created contract, got %+v", list)
	}

	if _, err := env.svc.ListForUser(ctx, env.tenant, "owner-1"); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization error listing someone else's contracts, got %v", err)
	}
	if _, err := env.svc.ListForUser(ctx, env.admin, "owner-1"); err != nil {
		t.Fatalf("admin list: %v", err)
	}
}

// fakeContractRepo keeps the workflow state in memory while honoring the
// conditional-update semantics of the PG repository.
type fakeContractRepo struct {
	properties map[string]PropertyInfo
	users      map[string]PartyInfo
	contracts  map[string]Contract
	events     []Event
}

func newFakeContractRepo() *fakeContractRepo {
	return &fakeContractRepo{
		properties: make(map[string]PropertyInfo),
		users:      make(map[string]PartyInfo),
		contracts:  make(map[string]Contract),
	}
}

func (f *fakeContractRepo) PropertyForUpdate(ctx context.Context, tx pgx.Tx, propertyID string) (PropertyInfo, error) {
	info, ok := f.properties[propertyID]
	if !ok {
		return PropertyInfo{}, ErrPropertyNotFound
	}
	return info, nil
}

func (f *fakeContractRepo) UserByPhone(ctx context.Context, tx pgx.Tx, phone string) (PartyInfo, error) {
	for _, u := range f.users {
		if u.Phone == phone {
			return u, nil
		}
	}
	return PartyInfo{}, ErrUserNotFound
}

func (f *fakeContractRepo) UserByID(ctx context.Context, tx pgx.Tx, userID string) (PartyInfo, error) {
	u, ok := f.users[userID]
	if !ok {
		return PartyInfo{}, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeContractRepo) Insert(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error) {
	for _, existing := range f.contracts {
		if existing.PropertyID == c.PropertyID && !existing.Status.Terminal() {
			return Contract{}, ErrLiveContractExists
		}
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	f.contracts[c.ID] = c
	return c, nil
}

func (f *fakeContractRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contract, error) {
	c, ok := f.contracts[id]
	if !ok {
		return Contract{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeContractRepo) RecordSignature(ctx context.Context, tx pgx.Tx, id string, party Party, payload string, next Status) (Contract, error) {
	c, ok := f.contracts[id]
	if !ok || !c.Status.Signable() || c.SignedBy(party) {
		return Contract{}, ErrStaleState
	}
	now := time.Now().UTC()
	if party == PartyOwner {
		c.OwnerSignature = &payload
		c.OwnerSignedAt = &now
	} else {
		c.CounterpartySignature = &payload
		c.CounterpartySignedAt = &now
	}
	c.Status = next
	c.UpdatedAt = now
	f.contracts[id] = c
	return c, nil
}

func (f *fakeContractRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status, cancelReason *string) (Contract, error) {
	c, ok := f.contracts[id]
	if !ok || c.Status.Terminal() {
		return Contract{}, ErrStaleState
	}
	c.Status = next
	if cancelReason != nil {
		c.CancelReason = cancelReason
	}
	c.UpdatedAt = time.Now().UTC()
	f.contracts[id] = c
	return c, nil
}

func (f *fakeContractRepo) SetPropertyAvailability(ctx context.Context, tx pgx.Tx, propertyID string, s property.AvailabilityStatus) error {
	info, ok := f.properties[propertyID]
	if !ok {
		return ErrPropertyNotFound
	}
	info.AvailabilityStatus = s
	f.properties[propertyID] = info
	return nil
}

func (f *fakeContractRepo) AppendEvent(ctx context.Context, tx pgx.Tx, contractID, eventType string, actorID *string, payload map[string]any) error {
	f.events = append(f.events, Event{
		ContractID: contractID,
		Type:       eventType,
		ActorID:    actorID,
		CreatedAt:  time.Now().UTC(),
	})
	return nil
}

func (f *fakeContractRepo) ListForUser(ctx context.Context, userID string) ([]Contract, error) {
	out := []Contract{}
	for _, c := range f.contracts {
		if c.OwnerID == userID || c.CounterpartyID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeContractRepo) ListForProperty(ctx context.Context, propertyID string) ([]Contract, error) {
	out := []Contract{}
	for _, c := range f.contracts {
		if c.PropertyID == propertyID {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	notices []Notice
}

func (f *fakeNotifier) Enqueue(ctx context.Context, tx pgx.Tx, n Notice) error {
	f.notices = append(f.notices, n)
	return nil
}

type fakePool struct {
	lastTx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.lastTx = &fakeTx{}
	return f.lastTx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
