package credits

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
)

type grantResponse struct {
	ID          uuid.UUID          `json:"id"`
	Amount      int64              `json:"amount"`
	Remaining   int64              `json:"remaining"`
	Source      enums.CreditSource `json:"source"`
	Plan        *enums.Plan        `json:"plan,omitempty"`
	GrantedAt   time.Time          `json:"granted_at"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	ExpiredAt   *time.Time         `json:"expired_at,omitempty"`
	ExternalRef *string            `json:"external_ref,omitempty"`
}

type grantsResponse struct {
	Grants []grantResponse `json:"grants"`
}

type transactionResponse struct {
	ID          uuid.UUID                   `json:"id"`
	GrantID     *uuid.UUID                  `json:"grant_id,omitempty"`
	OperationID uuid.UUID                   `json:"operation_id"`
	Delta       int64                       `json:"delta"`
	Type        enums.CreditTransactionType `json:"type"`
	Description string                      `json:"description"`
	ExternalRef *string                     `json:"external_ref,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
}

type historyResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Cursor       string                `json:"cursor,omitempty"`
}

func newGrantsResponse(grants []models.CreditGrant) grantsResponse {
	resp := grantsResponse{Grants: make([]grantResponse, 0, len(grants))}
	for _, g := range grants {
		resp.Grants = append(resp.Grants, grantResponse{
			ID:          g.ID,
			Amount:      g.Amount,
			Remaining:   g.Remaining,
			Source:      g.Source,
			Plan:        g.Plan,
			GrantedAt:   g.GrantedAt,
			ExpiresAt:   g.ExpiresAt,
			ExpiredAt:   g.ExpiredAt,
			ExternalRef: g.ExternalRef,
		})
	}
	return resp
}

func newHistoryResponse(page ledger.TransactionPage) historyResponse {
	resp := historyResponse{
		Transactions: make([]transactionResponse, 0, len(page.Transactions)),
		Cursor:       page.Cursor,
	}
	for _, tx := range page.Transactions {
		resp.Transactions = append(resp.Transactions, transactionResponse{
			ID:          tx.ID,
			GrantID:     tx.GrantID,
			OperationID: tx.OperationID,
			Delta:       tx.Delta,
			Type:        tx.Type,
			Description: tx.Description,
			ExternalRef: tx.ExternalRef,
			CreatedAt:   tx.CreatedAt,
		})
	}
	return resp
}
