package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Party identifies which side of a contract an actor signs for.
type Party string

const (
	PartyOwner        Party = "owner"
	PartyCounterparty Party = "counterparty"
)

// ContractCreator races to open new contracts for the same property. The
// partial unique index allows at most one live contract, so all but one
// concurrent insert must fail with 23505.
func ContractCreator(ctx context.Context, pool *pgxpool.Pool, propertyID, ownerID, tenantID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO contracts (property_id, owner_id, counterparty_id, contract_type, value, start_date, end_date, status)
			VALUES ($1, $2, $3, 'rental', 150000, CURRENT_DATE, CURRENT_DATE + interval '1 year', 'pending_signatures')
		`, propertyID, ownerID, tenantID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" { // live contract already exists
				// expected under contention
			} else {
				return fmt.Errorf("creator insert: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Signer records one party's signature on whatever signable contract exists
// for the property. The signature write, the status transition and the
// availability write-back on activation happen in one transaction, matching
// the production signing path.
func Signer(ctx context.Context, pool *pgxpool.Pool, propertyID string, party Party, stop <-chan struct{}) error {
	sigColumn := "owner_signature"
	atColumn := "owner_signed_at"
	otherColumn := "counterparty_signature"
	midStatus := "signed_by_owner"
	if party == PartyCounterparty {
		sigColumn = "counterparty_signature"
		atColumn = "counterparty_signed_at"
		otherColumn = "owner_signature"
		midStatus = "signed_by_counterparty"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := signOnce(ctx, pool, propertyID, sigColumn, atColumn, otherColumn, midStatus); err != nil {
			return err
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

func signOnce(ctx context.Context, pool *pgxpool.Pool, propertyID, sigColumn, atColumn, otherColumn, midStatus string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("signer begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		contractID  string
		otherSigned bool
	)
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, %s IS NOT NULL FROM contracts
		WHERE property_id = $1
		  AND status IN ('pending_signatures','signed_by_owner','signed_by_counterparty')
		  AND %s IS NULL
		LIMIT 1 FOR UPDATE
	`, otherColumn, sigColumn), propertyID).Scan(&contractID, &otherSigned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		// a chaos-killed backend surfaces here; next loop retries
		return nil
	}

	next := midStatus
	if otherSigned {
		next = "active"
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE contracts SET %s = 'stress-signature', %s = now(), status = $2, updated_at = now()
		WHERE id = $1
	`, sigColumn, atColumn), contractID, next); err != nil {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO contract_events (contract_id, type, payload)
		VALUES ($1, 'CONTRACT_SIGNED', '{}'::jsonb)
	`, contractID); err != nil {
		return nil
	}
	if next == "active" {
		if _, err := tx.Exec(ctx, `UPDATE properties SET availability_status = 'rented', updated_at = now() WHERE id = $1`, propertyID); err != nil {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO contract_events (contract_id, type, payload)
			VALUES ($1, 'CONTRACT_ACTIVATED', '{}'::jsonb)
		`, contractID); err != nil {
			return nil
		}
	}
	_ = tx.Commit(ctx)
	return nil
}

// Canceller occasionally tears down the live contract so creators and signers
// get fresh material, reverting the property to available when the contract
// had reached active.
func Canceller(ctx context.Context, pool *pgxpool.Pool, propertyID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("canceller begin: %w", err)
		}
		var (
			contractID string
			status     string
		)
		err = tx.QueryRow(ctx, `
			SELECT id, status FROM contracts
			WHERE property_id = $1
			  AND status IN ('pending_signatures','signed_by_owner','signed_by_counterparty','active')
			LIMIT 1 FOR UPDATE
		`, propertyID).Scan(&contractID, &status)
		if err == nil {
			if _, err = tx.Exec(ctx, `
				UPDATE contracts SET status = 'cancelled', cancel_reason = 'stress teardown', updated_at = now()
				WHERE id = $1
			`, contractID); err == nil {
				if _, err = tx.Exec(ctx, `
					INSERT INTO contract_events (contract_id, type, payload)
					VALUES ($1, 'CONTRACT_CANCELLED', '{}'::jsonb)
				`, contractID); err == nil {
					if status == "active" {
						_, err = tx.Exec(ctx, `UPDATE properties SET availability_status = 'available', updated_at = now() WHERE id = $1`, propertyID)
					}
					if err == nil {
						_ = tx.Commit(ctx)
					}
				}
			}
		}
		_ = tx.Rollback(ctx)
		time.Sleep(time.Duration(150+rand.Intn(150)) * time.Millisecond)
	}
}

// Submitter keeps feeding the moderation queue with pending listings.
func Submitter(ctx context.Context, pool *pgxpool.Pool, ownerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO properties (owner_id, title, category, transaction_type, price, province, images)
			VALUES ($1, $2, 'apartment', 'rent', 90000, 'Luanda', '{stress.jpg}')
		`, ownerID, fmt.Sprintf("Stress listing %d", rand.Int63()))
		if err != nil {
			return fmt.Errorf("submitter insert: %w", err)
		}
		time.Sleep(time.Duration(60+rand.Intn(90)) * time.Millisecond)
	}
}

// Moderator drains the review queue, approving or rejecting pending listings.
// Rejections always carry a message; the conditional WHERE keeps two
// moderators from double-handling one listing.
func Moderator(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if rand.Intn(2) == 0 {
			_, _ = pool.Exec(ctx, `
				UPDATE properties SET approval_status = 'approved', updated_at = now()
				WHERE id = (SELECT id FROM properties WHERE approval_status = 'pending' LIMIT 1)
				  AND approval_status = 'pending'
			`)
		} else {
			_, _ = pool.Exec(ctx, `
				UPDATE properties SET approval_status = 'rejected', rejection_message = 'fotos insuficientes', updated_at = now()
				WHERE id = (SELECT id FROM properties WHERE approval_status = 'pending' LIMIT 1)
				  AND approval_status = 'pending'
			`)
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}
