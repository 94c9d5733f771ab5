package plans

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/pixelforge-backend/pkg/config"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
)

// Catalog resolves plans and credit packs to monthly credit amounts and
// Stripe price ids.
type Catalog struct {
	credits     map[enums.Plan]int64
	planByPrice map[string]enums.Plan
	packs       map[string]int64
}

// NewCatalog validates cfg and builds the lookup tables.
func NewCatalog(cfg config.PlansConfig) (*Catalog, error) {
	c := &Catalog{
		credits: map[enums.Plan]int64{
			enums.PlanFree:         0,
			enums.PlanBasic:        cfg.BasicCredits,
			enums.PlanStarter:      cfg.StarterCredits,
			enums.PlanProfessional: cfg.ProfessionalCredits,
		},
		planByPrice: map[string]enums.Plan{},
		packs:       map[string]int64{},
	}
	for plan, amount := range c.credits {
		if plan.IsPaid() && amount <= 0 {
			return nil, fmt.Errorf("plan %s must grant a positive credit amount", plan)
		}
	}

	prices := map[enums.Plan]string{
		enums.PlanBasic:        cfg.BasicPriceID,
		enums.PlanStarter:      cfg.StarterPriceID,
		enums.PlanProfessional: cfg.ProfessionalPriceID,
	}
	for plan, price := range prices {
		price = strings.TrimSpace(price)
		if price == "" {
			continue
		}
		if existing, ok := c.planByPrice[price]; ok {
			return nil, fmt.Errorf("price %s mapped to both %s and %s", price, existing, plan)
		}
		c.planByPrice[price] = plan
	}

	for id, amount := range cfg.CreditPacks {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if amount <= 0 {
			return nil, fmt.Errorf("credit pack %s must grant a positive amount", id)
		}
		c.packs[id] = amount
	}
	return c, nil
}

// MonthlyCredits returns the credits granted per billing cycle for plan.
func (c *Catalog) MonthlyCredits(plan enums.Plan) (int64, bool) {
	amount, ok := c.credits[plan]
	return amount, ok
}

// PlanForPrice maps a Stripe price id to a plan. Plan names are accepted as
// price ids so lookup keys like "basic" also resolve.
func (c *Catalog) PlanForPrice(priceID string) (enums.Plan, bool) {
	priceID = strings.TrimSpace(priceID)
	if plan, ok := c.planByPrice[priceID]; ok {
		return plan, true
	}
	if plan, err := enums.ParsePlan(priceID); err == nil && plan.IsPaid() {
		return plan, true
	}
	return "", false
}

// PackCredits returns the credits sold by a one-time credit pack.
func (c *Catalog) PackCredits(packID string) (int64, bool) {
	amount, ok := c.packs[strings.TrimSpace(packID)]
	return amount, ok
}
