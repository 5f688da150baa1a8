package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-engine/internal/domain"
)

// PhoneNumberRepository resolves the caller number bound to an assistant.
type PhoneNumberRepository struct {
	db *sqlx.DB
}

// NewPhoneNumberRepository constructs a PhoneNumberRepository.
func NewPhoneNumberRepository(db *sqlx.DB) *PhoneNumberRepository {
	return &PhoneNumberRepository{db: db}
}

// FindActiveOutbound returns the assistant's active number, or nil.
func (r *PhoneNumberRepository) FindActiveOutbound(ctx context.Context, assistantID uuid.UUID) (*domain.OutboundNumber, error) {
	var row struct {
		Number   string         `db:"number"`
		TrunkSID sql.NullString `db:"trunk_sid"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT number, trunk_sid FROM phone_numbers
		WHERE inbound_assistant_id = $1 AND status = 'active'
		ORDER BY created_at ASC
		LIMIT 1`, assistantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("phone number repo: find active: %w", err)
	}
	return &domain.OutboundNumber{Number: row.Number, TrunkID: row.TrunkSID.String}, nil
}
