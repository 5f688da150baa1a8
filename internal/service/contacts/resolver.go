package contacts

import (
	"context"
	"fmt"
	"strings"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/internal/repository"
)

const unknownName = "Unknown"

// Resolver turns a campaign's contact source into dialable candidates.
type Resolver struct {
	contacts repository.ContactRepository
}

// NewResolver constructs a Resolver.
func NewResolver(contacts repository.ContactRepository) *Resolver {
	return &Resolver{contacts: contacts}
}

// Resolve returns candidates with normalized phone numbers. Contacts without
// a dialable number are dropped. A campaign whose source reference is missing
// yields no candidates.
func (r *Resolver) Resolve(ctx context.Context, c *domain.Campaign) ([]domain.ContactCandidate, error) {
	var (
		records []repository.ContactRecord
		err     error
	)

	switch c.ContactSource {
	case domain.ContactSourceList:
		if c.ContactListID == nil {
			return nil, nil
		}
		records, err = r.contacts.ListByContactList(ctx, *c.ContactListID)
	case domain.ContactSourceCSV:
		if c.CSVFileID == nil {
			return nil, nil
		}
		records, err = r.contacts.ListByCSVFile(ctx, *c.CSVFileID)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve contacts: %w", err)
	}

	candidates := make([]domain.ContactCandidate, 0, len(records))
	for _, rec := range records {
		phone := domain.NormalizePhone(rec.Phone)
		if !domain.DialablePhone(phone) {
			continue
		}
		id := rec.ID
		candidates = append(candidates, domain.ContactCandidate{
			ID:          &id,
			Name:        displayName(rec),
			PhoneNumber: phone,
			Email:       strings.TrimSpace(rec.Email),
		})
	}
	return candidates, nil
}

func displayName(rec repository.ContactRecord) string {
	if name := strings.TrimSpace(rec.Name); name != "" {
		return name
	}
	if name := strings.TrimSpace(rec.FirstName + " " + rec.LastName); name != "" {
		return name
	}
	return unknownName
}
