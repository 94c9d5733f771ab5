package ledger

import (
	"fmt"

	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	"github.com/google/uuid"
)

// Entry is one ledger row plus the grant change it implies. Exactly one of
// NewGrant or GrantID is set: NewGrant inserts a batch and credits its amount,
// GrantID draws a negative delta from an existing grant.
type Entry struct {
	NewGrant    *models.CreditGrant
	GrantID     *uuid.UUID
	Delta       int64
	Type        enums.CreditTransactionType
	Description string
	ExternalRef *string
}

func (e Entry) validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid transaction type %q", e.Type)
	}
	if e.Delta == 0 {
		return fmt.Errorf("delta must be non-zero")
	}
	switch {
	case e.NewGrant != nil && e.GrantID != nil:
		return fmt.Errorf("entry cannot both create and draw a grant")
	case e.NewGrant != nil:
		if e.Type != enums.CreditTransactionGrant && e.Type != enums.CreditTransactionRefund {
			return fmt.Errorf("%s entries cannot create grants", e.Type)
		}
		if e.NewGrant.Amount <= 0 || e.Delta != e.NewGrant.Amount {
			return fmt.Errorf("grant amount %d does not match delta %d", e.NewGrant.Amount, e.Delta)
		}
		if !e.NewGrant.Source.IsValid() {
			return fmt.Errorf("invalid credit source %q", e.NewGrant.Source)
		}
	case e.GrantID != nil:
		if !e.Type.IsDebit() || e.Delta > 0 {
			return fmt.Errorf("existing grants only accept debits, got %s %d", e.Type, e.Delta)
		}
	default:
		return fmt.Errorf("entry must reference a grant")
	}
	return nil
}
