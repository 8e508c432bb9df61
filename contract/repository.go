package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geraldochiquemba2/biva-imobiliria-sub001/property"
)

var (
	// ErrNotFound signals the contract does not exist.
	ErrNotFound = errors.New("contract: not found")
	// ErrPropertyNotFound signals the referenced property does not exist.
	ErrPropertyNotFound = errors.New("contract: property not found")
	// ErrUserNotFound signals the referenced party does not exist.
	ErrUserNotFound = errors.New("contract: user not found")
	// ErrLiveContractExists signals the property already has a non-terminal
	// contract; raised by the partial unique index under concurrent creates.
	ErrLiveContractExists = errors.New("contract: property already has a live contract")
	// ErrStaleState signals a conditional update that matched zero rows
	// because a concurrent mutation changed the expected prior state.
	ErrStaleState = errors.New("contract: state changed concurrently")
)

// PropertyInfo is the slice of the property row the lifecycle engine needs
// when creating or finalizing a contract.
type PropertyInfo struct {
	ID                 string
	OwnerID            string
	TransactionType    property.TransactionType
	ApprovalStatus     property.ApprovalStatus
	AvailabilityStatus property.AvailabilityStatus
}

// PartyInfo is the slice of the user row needed for signature checks.
type PartyInfo struct {
	ID       string
	FullName string
	Phone    string
	BI       *string
}

// HasIdentityDocument reports whether the party's BI is on record.
func (p PartyInfo) HasIdentityDocument() bool {
	return p.BI != nil && *p.BI != ""
}

// Repository defines the data access required by the lifecycle engine. The
// transactional methods run inside the service's transaction so the contract
// write and the property availability write-back commit as one unit.
type Repository interface {
	PropertyForUpdate(ctx context.Context, tx pgx.Tx, propertyID string) (PropertyInfo, error)
	UserByPhone(ctx context.Context, tx pgx.Tx, phone string) (PartyInfo, error)
	UserByID(ctx context.Context, tx pgx.Tx, userID string) (PartyInfo, error)
	Insert(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contract, error)
	RecordSignature(ctx context.Context, tx pgx.Tx, id string, party Party, payload string, next Status) (Contract, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status, cancelReason *string) (Contract, error)
	SetPropertyAvailability(ctx context.Context, tx pgx.Tx, propertyID string, s property.AvailabilityStatus) error
	AppendEvent(ctx context.Context, tx pgx.Tx, contractID, eventType string, actorID *string, payload map[string]any) error
	ListForUser(ctx context.Context, userID string) ([]Contract, error)
	ListForProperty(ctx context.Context, propertyID string) ([]Contract, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const contractColumns = `id, property_id, owner_id, counterparty_id, contract_type, value,
	start_date, end_date, content, status,
	owner_signature, owner_signed_at, counterparty_signature, counterparty_signed_at,
	cancel_reason, created_at, updated_at`

func (r *PGRepository) PropertyForUpdate(ctx context.Context, tx pgx.Tx, propertyID string) (PropertyInfo, error) {
	const query = `
		SELECT id, owner_id, transaction_type, approval_status, availability_status
		FROM properties
		WHERE id = $1
		FOR UPDATE
	`

	var info PropertyInfo
	err := tx.QueryRow(ctx, query, propertyID).Scan(
		&info.ID, &info.OwnerID, &info.TransactionType, &info.ApprovalStatus, &info.AvailabilityStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PropertyInfo{}, ErrPropertyNotFound
		}
		return PropertyInfo{}, fmt.Errorf("contract: lock property: %w", err)
	}
	return info, nil
}

func (r *PGRepository) UserByPhone(ctx context.Context, tx pgx.Tx, phone string) (PartyInfo, error) {
	return r.user(ctx, tx, `SELECT id, full_name, phone, bi FROM users WHERE phone = $1`, phone)
}

func (r *PGRepository) UserByID(ctx context.Context, tx pgx.Tx, userID string) (PartyInfo, error) {
	return r.user(ctx, tx, `SELECT id, full_name, phone, bi FROM users WHERE id = $1`, userID)
}

func (r *PGRepository) user(ctx context.Context, tx pgx.Tx, query string, arg any) (PartyInfo, error) {
	var info PartyInfo
	err := tx.QueryRow(ctx, query, arg).Scan(&info.ID, &info.FullName, &info.Phone, &info.BI)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PartyInfo{}, ErrUserNotFound
		}
		return PartyInfo{}, fmt.Errorf("contract: fetch user: %w", err)
	}
	return info, nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error) {
	insertSQL := fmt.Sprintf(`
		INSERT INTO contracts (id, property_id, owner_id, counterparty_id, contract_type,
			value, start_date, end_date, content, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING %s
	`, contractColumns)

	rec, err := scanContract(tx.QueryRow(ctx, insertSQL,
		c.ID, c.PropertyID, c.OwnerID, c.CounterpartyID, c.Type,
		c.Value, c.StartDate, c.EndDate, c.Content, c.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Contract{}, ErrLiveContractExists
		}
		return Contract{}, fmt.Errorf("contract: insert: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contract, error) {
	query := fmt.Sprintf(`SELECT %s FROM contracts WHERE id = $1 FOR UPDATE`, contractColumns)

	rec, err := scanContract(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, ErrNotFound
		}
		return Contract{}, fmt.Errorf("contract: get for update: %w", err)
	}
	return rec, nil
}

// RecordSignature stores one party's signature and moves the contract to
// next. The condition re-checks the signature slot is still empty so a
// duplicate submission races to zero rows instead of overwriting.
func (r *PGRepository) RecordSignature(ctx context.Context, tx pgx.Tx, id string, party Party, payload string, next Status) (Contract, error) {
	column := "owner_signature"
	tsColumn := "owner_signed_at"
	if party == PartyCounterparty {
		column = "counterparty_signature"
		tsColumn = "counterparty_signed_at"
	}

	updateSQL := fmt.Sprintf(`
		UPDATE contracts
		SET %s = $2,
		    %s = now(),
		    status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND %s IS NULL
		  AND status IN ('pending_signatures','signed_by_owner','signed_by_counterparty')
		RETURNING %s
	`, column, tsColumn, column, contractColumns)

	rec, err := scanContract(tx.QueryRow(ctx, updateSQL, id, payload, next))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, ErrStaleState
		}
		return Contract{}, fmt.Errorf("contract: record signature: %w", err)
	}
	return rec, nil
}

// UpdateStatus applies a terminal-bound transition conditioned on the status
// not already being terminal.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status, cancelReason *string) (Contract, error) {
	updateSQL := fmt.Sprintf(`
		UPDATE contracts
		SET status = $2,
		    cancel_reason = COALESCE($3, cancel_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('cancelled','completed')
		RETURNING %s
	`, contractColumns)

	rec, err := scanContract(tx.QueryRow(ctx, updateSQL, id, next, cancelReason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, ErrStaleState
		}
		return Contract{}, fmt.Errorf("contract: update status: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) SetPropertyAvailability(ctx context.Context, tx pgx.Tx, propertyID string, s property.AvailabilityStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE properties
		SET availability_status = $2,
		    updated_at = now()
		WHERE id = $1
	`, propertyID, s)
	if err != nil {
		return fmt.Errorf("contract: set property availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPropertyNotFound
	}
	return nil
}

func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, contractID, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("contract: marshal event payload: %w", err)
	}

	const insertSQL = `
		INSERT INTO contract_events (contract_id, type, actor_id, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, contractID, eventType, actorID, body); err != nil {
		return fmt.Errorf("contract: insert event: %w", err)
	}
	return nil
}

func (r *PGRepository) ListForUser(ctx context.Context, userID string) ([]Contract, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM contracts
		WHERE owner_id = $1 OR counterparty_id = $1
		ORDER BY created_at DESC
	`, contractColumns)
	return r.list(ctx, query, userID)
}

func (r *PGRepository) ListForProperty(ctx context.Context, propertyID string) ([]Contract, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM contracts
		WHERE property_id = $1
		ORDER BY created_at DESC
	`, contractColumns)
	return r.list(ctx, query, propertyID)
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Contract, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("contract: list: %w", err)
	}
	defer rows.Close()

	out := []Contract{}
	for rows.Next() {
		rec, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate: %w", err)
	}
	return out, nil
}

func scanContract(row pgx.Row) (Contract, error) {
	var c Contract
	err := row.Scan(
		&c.ID,
		&c.PropertyID,
		&c.OwnerID,
		&c.CounterpartyID,
		&c.Type,
		&c.Value,
		&c.StartDate,
		&c.EndDate,
		&c.Content,
		&c.Status,
		&c.OwnerSignature,
		&c.OwnerSignedAt,
		&c.CounterpartySignature,
		&c.CounterpartySignedAt,
		&c.CancelReason,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Contract{}, err
	}
	return c, nil
}
