package property

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the property does not exist.
	ErrNotFound = errors.New("property: not found")
	// ErrNotPending signals a moderation action on a listing that already
	// left the pending state.
	ErrNotPending = errors.New("property: not pending review")
	// ErrNotRejected signals an acknowledgement on a listing that is not
	// currently rejected.
	ErrNotRejected = errors.New("property: not rejected")
	// ErrEditLocked signals an edit attempt while the rejection has not been
	// acknowledged, or while the listing is still pending review.
	ErrEditLocked = errors.New("property: edit not allowed in current state")
	// ErrUnderContract signals a delete attempt while a live contract
	// references the property.
	ErrUnderContract = errors.New("property: live contract exists")
	// ErrContractHistory signals a delete attempt on a property with
	// terminal contracts retained for audit.
	ErrContractHistory = errors.New("property: contract history exists")
)

// Filters narrows public listing queries.
type Filters struct {
	Province        string
	Category        string
	TransactionType TransactionType
	PriceMin        float64
	PriceMax        float64
	Page            int
	PageSize        int
}

// Repository handles property persistence including the conditional
// moderation updates that guard the approval state machine.
type Repository interface {
	Insert(ctx context.Context, ownerID string, d Draft) (Property, error)
	Get(ctx context.Context, id string) (Property, error)
	Approve(ctx context.Context, id string) (Property, error)
	Reject(ctx context.Context, id string, message string) (Property, error)
	Acknowledge(ctx context.Context, id string) (Property, error)
	Resubmit(ctx context.Context, id string, d Draft) (Property, error)
	Delete(ctx context.Context, id string) error
	ListPublic(ctx context.Context, f Filters) ([]Property, int, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Property, error)
	ListPendingReview(ctx context.Context) ([]Property, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const propertyColumns = `id, owner_id, title, description, category, transaction_type, price,
	province, municipality, neighborhood, bedrooms, bathrooms, area_sqm, images,
	short_term, featured, availability_status, approval_status,
	rejection_message, rejection_acknowledged, created_at, updated_at`

const liveContractStatuses = `'pending_signatures','signed_by_owner','signed_by_counterparty','active'`

func (r *PGRepository) Insert(ctx context.Context, ownerID string, d Draft) (Property, error) {
	insertSQL := fmt.Sprintf(`
		INSERT INTO properties (owner_id, title, description, category, transaction_type, price,
			province, municipality, neighborhood, bedrooms, bathrooms, area_sqm, images,
			short_term, featured, availability_status, approval_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 'available', 'pending')
		RETURNING %s
	`, propertyColumns)

	prop, err := scanProperty(r.pool.QueryRow(ctx, insertSQL,
		ownerID, d.Title, d.Description, d.Category, d.TransactionType, d.Price,
		d.Province, d.Municipality, d.Neighborhood, d.Bedrooms, d.Bathrooms, d.AreaSqm,
		d.Images, d.ShortTerm, d.Featured))
	if err != nil {
		return Property{}, fmt.Errorf("property: insert: %w", err)
	}
	return prop, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Property, error) {
	selectSQL := fmt.Sprintf(`SELECT %s FROM properties WHERE id = $1`, propertyColumns)

	prop, err := scanProperty(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, ErrNotFound
		}
		return Property{}, fmt.Errorf("property: get: %w", err)
	}
	return prop, nil
}

// Approve flips a pending listing to approved and notifies the owner in the
// same transaction. The pending precondition makes duplicate admin actions
// fail instead of double-processing.
func (r *PGRepository) Approve(ctx context.Context, id string) (Property, error) {
	updateSQL := fmt.Sprintf(`
		UPDATE properties
		SET approval_status = 'approved',
		    rejection_message = NULL,
		    rejection_acknowledged = false,
		    updated_at = now()
		WHERE id = $1 AND approval_status = 'pending'
		RETURNING %s
	`, propertyColumns)

	return r.moderate(ctx, id, updateSQL, "property.approved",
		"A sua propriedade foi aprovada e já está publicada.")
}

// Reject flips a pending listing to rejected, storing the moderation message
// the owner must acknowledge before editing.
func (r *PGRepository) Reject(ctx context.Context, id string, message string) (Property, error) {
	updateSQL := fmt.Sprintf(`
		UPDATE properties
		SET approval_status = 'rejected',
		    rejection_message = $2,
		    rejection_acknowledged = false,
		    updated_at = now()
		WHERE id = $1 AND approval_status = 'pending'
		RETURNING %s
	`, propertyColumns)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Property{}, fmt.Errorf("property: begin reject: %w", err)
	}
	defer tx.Rollback(ctx)

	prop, err := scanProperty(tx.QueryRow(ctx, updateSQL, id, message))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, r.explainModerationMiss(ctx, id)
		}
		return Property{}, fmt.Errorf("property: reject: %w", err)
	}

	if err := insertOwnerNotification(ctx, tx, prop, "property.rejected",
		"A sua propriedade foi rejeitada: "+message); err != nil {
		return Property{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Property{}, fmt.Errorf("property: commit reject: %w", err)
	}
	return prop, nil
}

func (r *PGRepository) moderate(ctx context.Context, id, updateSQL, kind, body string) (Property, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Property{}, fmt.Errorf("property: begin moderation: %w", err)
	}
	defer tx.Rollback(ctx)

	prop, err := scanProperty(tx.QueryRow(ctx, updateSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, r.explainModerationMiss(ctx, id)
		}
		return Property{}, fmt.Errorf("property: moderation update: %w", err)
	}

	if err := insertOwnerNotification(ctx, tx, prop, kind, body); err != nil {
		return Property{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Property{}, fmt.Errorf("property: commit moderation: %w", err)
	}
	return prop, nil
}

// explainModerationMiss distinguishes a missing row from a listing that
// already left the pending state.
func (r *PGRepository) explainModerationMiss(ctx context.Context, id string) error {
	var status ApprovalStatus
	err := r.pool.QueryRow(ctx, `SELECT approval_status FROM properties WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("property: moderation status fetch: %w", err)
	}
	return fmt.Errorf("%w (current status %s)", ErrNotPending, status)
}

// Acknowledge clears the must-acknowledge-before-editing gate on a rejected
// listing. The approval status itself stays rejected.
func (r *PGRepository) Acknowledge(ctx context.Context, id string) (Property, error) {
	updateSQL := fmt.Sprintf(`
		UPDATE properties
		SET rejection_acknowledged = true,
		    updated_at = now()
		WHERE id = $1 AND approval_status = 'rejected'
		RETURNING %s
	`, propertyColumns)

	prop, err := scanProperty(r.pool.QueryRow(ctx, updateSQL, id))
	if err == nil {
		return prop, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Property{}, fmt.Errorf("property: acknowledge: %w", err)
	}

	var status ApprovalStatus
	if err := r.pool.QueryRow(ctx, `SELECT approval_status FROM properties WHERE id = $1`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, ErrNotFound
		}
		return Property{}, fmt.Errorf("property: acknowledge fetch: %w", err)
	}
	return Property{}, fmt.Errorf("%w (current status %s)", ErrNotRejected, status)
}

// Resubmit applies the edited draft and resets the approval workflow to
// pending, clearing any stored rejection. The state condition enforces the
// acknowledge-before-edit gate at the data store so concurrent admin actions
// cannot slip an edit through.
func (r *PGRepository) Resubmit(ctx context.Context, id string, d Draft) (Property, error) {
	updateSQL := fmt.Sprintf(`
		UPDATE properties
		SET title = $2, description = $3, category = $4, transaction_type = $5, price = $6,
		    province = $7, municipality = $8, neighborhood = $9,
		    bedrooms = $10, bathrooms = $11, area_sqm = $12, images = $13,
		    short_term = $14, featured = $15,
		    approval_status = 'pending',
		    rejection_message = NULL,
		    rejection_acknowledged = false,
		    updated_at = now()
		WHERE id = $1
		  AND (approval_status = 'approved'
		       OR (approval_status = 'rejected' AND rejection_acknowledged))
		RETURNING %s
	`, propertyColumns)

	prop, err := scanProperty(r.pool.QueryRow(ctx, updateSQL,
		id, d.Title, d.Description, d.Category, d.TransactionType, d.Price,
		d.Province, d.Municipality, d.Neighborhood, d.Bedrooms, d.Bathrooms, d.AreaSqm,
		d.Images, d.ShortTerm, d.Featured))
	if err == nil {
		return prop, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Property{}, fmt.Errorf("property: resubmit: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM properties WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Property{}, fmt.Errorf("property: resubmit fetch: %w", err)
	}
	if !exists {
		return Property{}, ErrNotFound
	}
	return Property{}, ErrEditLocked
}

// Delete removes a listing. Contract rows are never deleted, so a property
// referenced by any contract stays for audit.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	deleteSQL := `
		DELETE FROM properties
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM contracts WHERE property_id = $1)
	`

	tag, err := r.pool.Exec(ctx, deleteSQL, id)
	if err != nil {
		return fmt.Errorf("property: delete: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var live bool
	checkSQL := fmt.Sprintf(`SELECT EXISTS (
		SELECT 1 FROM contracts WHERE property_id = $1 AND status IN (%s))`, liveContractStatuses)
	if err := r.pool.QueryRow(ctx, checkSQL, id).Scan(&live); err != nil {
		return fmt.Errorf("property: delete check: %w", err)
	}
	if live {
		return ErrUnderContract
	}

	var any bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contracts WHERE property_id = $1)`, id).Scan(&any); err != nil {
		return fmt.Errorf("property: delete check: %w", err)
	}
	if any {
		return ErrContractHistory
	}
	return ErrNotFound
}

func (r *PGRepository) ListPublic(ctx context.Context, f Filters) ([]Property, int, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}

	where := []string{"approval_status = 'approved'", "availability_status = 'available'"}
	args := []any{}

	if f.Province != "" {
		args = append(args, f.Province)
		where = append(where, fmt.Sprintf("province = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.TransactionType != "" {
		args = append(args, f.TransactionType)
		where = append(where, fmt.Sprintf("transaction_type = $%d", len(args)))
	}
	if f.PriceMin > 0 {
		args = append(args, f.PriceMin)
		where = append(where, fmt.Sprintf("price >= $%d", len(args)))
	}
	if f.PriceMax > 0 {
		args = append(args, f.PriceMax)
		where = append(where, fmt.Sprintf("price <= $%d", len(args)))
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT %s FROM properties%s ORDER BY featured DESC, created_at DESC LIMIT %d OFFSET %d`,
		propertyColumns, whereClause, f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("property: list public: %w", err)
	}
	defer rows.Close()

	list := []Property{}
	for rows.Next() {
		prop, err := scanProperty(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, prop)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("property: iterate public: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM properties%s`, whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("property: count public: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) ListByOwner(ctx context.Context, ownerID string) ([]Property, error) {
	query := fmt.Sprintf(`SELECT %s FROM properties WHERE owner_id = $1 ORDER BY created_at DESC`, propertyColumns)
	return r.list(ctx, query, ownerID)
}

func (r *PGRepository) ListPendingReview(ctx context.Context) ([]Property, error) {
	query := fmt.Sprintf(`SELECT %s FROM properties WHERE approval_status = 'pending' ORDER BY created_at ASC`, propertyColumns)
	return r.list(ctx, query)
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Property, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("property: list: %w", err)
	}
	defer rows.Close()

	list := []Property{}
	for rows.Next() {
		prop, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, prop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("property: iterate: %w", err)
	}
	return list, nil
}

func insertOwnerNotification(ctx context.Context, tx pgx.Tx, prop Property, kind, body string) error {
	const insertSQL = `
		INSERT INTO notifications (user_id, kind, body, property_id)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.Exec(ctx, insertSQL, prop.OwnerID, kind, body, prop.ID); err != nil {
		return fmt.Errorf("property: insert notification: %w", err)
	}
	return nil
}

func scanProperty(row pgx.Row) (Property, error) {
	var p Property
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Title,
		&p.Description,
		&p.Category,
		&p.TransactionType,
		&p.Price,
		&p.Province,
		&p.Municipality,
		&p.Neighborhood,
		&p.Bedrooms,
		&p.Bathrooms,
		&p.AreaSqm,
		&p.Images,
		&p.ShortTerm,
		&p.Featured,
		&p.AvailabilityStatus,
		&p.ApprovalStatus,
		&p.RejectionMessage,
		&p.RejectionAcknowledged,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Property{}, err
	}
	return p, nil
}
