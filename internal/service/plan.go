package service

import (
	"paypal-billing-service/internal/config"
	"paypal-billing-service/internal/dto"
	"sort"

	"github.com/shopspring/decimal"
)

const (
	PlanSoloPro      = "SOLO_PRO"
	PlanProfessional = "PROFESSIONAL"
	PlanEnterprise   = "ENTERPRISE"
)

// PlanCatalog maps plan keys to their PayPal billing plans.
type PlanCatalog map[string]dto.Plan

func NewPlanCatalog(cfg *config.Paypal) PlanCatalog {
	monthly := func(key, planID, name, description string, price int64, features ...string) dto.Plan {
		return dto.Plan{
			Key:           key,
			PlanID:        planID,
			Name:          name,
			Description:   description,
			Price:         decimal.NewFromInt(price),
			Currency:      "USD",
			Interval:      "MONTH",
			IntervalCount: 1,
			Features:      features,
		}
	}

	return PlanCatalog{
		PlanSoloPro: monthly(PlanSoloPro, cfg.PlanIDSoloPro, "Solo Pro", "Perfect for solo practitioners", 299,
			"Unlimited minutes", "Voice cloning", "Custom scripts", "Basic analytics", "Email support"),
		PlanProfessional: monthly(PlanProfessional, cfg.PlanIDProfessional, "Professional", "For growing businesses", 499,
			"Unlimited minutes", "Voice cloning", "Custom scripts", "Advanced analytics", "Priority support",
			"Multi-location support"),
		PlanEnterprise: monthly(PlanEnterprise, cfg.PlanIDEnterprise, "Enterprise", "For large organizations", 799,
			"Unlimited minutes", "Voice cloning", "Custom scripts", "Advanced analytics", "Dedicated support",
			"Multi-location support", "Custom integrations", "SLA guarantee"),
	}
}

func (c PlanCatalog) Lookup(key string) (dto.Plan, bool) {
	plan, ok := c[key]
	return plan, ok
}

// All returns the plans ordered by price.
func (c PlanCatalog) All() []dto.Plan {
	plans := make([]dto.Plan, 0, len(c))
	for _, plan := range c {
		plans = append(plans, plan)
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].Price.LessThan(plans[j].Price)
	})
	return plans
}
