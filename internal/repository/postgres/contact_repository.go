package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-engine/internal/repository"
)

// ContactRepository reads contact lists and imported CSV rows.
type ContactRepository struct {
	db *sqlx.DB
}

// NewContactRepository constructs a ContactRepository.
func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// ListByContactList returns callable members of a contact list. Contacts
// flagged do-not-call are never returned.
func (r *ContactRepository) ListByContactList(ctx context.Context, listID uuid.UUID) ([]repository.ContactRecord, error) {
	var rows []contactRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, first_name, last_name, '' AS name, phone_number, email
		FROM contacts
		WHERE contact_list_id = $1 AND do_not_call = FALSE AND status <> 'do-not-call'
		ORDER BY created_at ASC, id`, listID)
	if err != nil {
		return nil, fmt.Errorf("contact repo: list by contact list: %w", err)
	}
	return toContactRecords(rows), nil
}

// ListByCSVFile returns the rows imported from a CSV file.
func (r *ContactRepository) ListByCSVFile(ctx context.Context, fileID uuid.UUID) ([]repository.ContactRecord, error) {
	var rows []contactRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, first_name, last_name, name, phone_number, email
		FROM csv_contacts
		WHERE csv_file_id = $1
		ORDER BY row_index ASC, id`, fileID)
	if err != nil {
		return nil, fmt.Errorf("contact repo: list by csv file: %w", err)
	}
	return toContactRecords(rows), nil
}

type contactRow struct {
	ID        uuid.UUID      `db:"id"`
	FirstName sql.NullString `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
	Name      sql.NullString `db:"name"`
	Phone     sql.NullString `db:"phone_number"`
	Email     sql.NullString `db:"email"`
}

func toContactRecords(rows []contactRow) []repository.ContactRecord {
	out := make([]repository.ContactRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, repository.ContactRecord{
			ID:        row.ID,
			FirstName: row.FirstName.String,
			LastName:  row.LastName.String,
			Name:      row.Name.String,
			Phone:     row.Phone.String,
			Email:     row.Email.String,
		})
	}
	return out
}
