package rules

import "github.com/openrisk/kestrel/internal/domain"

// DefaultRuleSet returns the stock rule set shipped with the engine. Deployed
// installations load versioned rule sets from the repository; this one seeds
// an empty database and backs the test fixtures.
func DefaultRuleSet() *domain.RuleSet {
	enabled := func(id string, cat domain.Category, weight float64) domain.RuleSpec {
		return domain.RuleSpec{ID: id, Category: cat, Weight: weight, Enabled: true}
	}
	return &domain.RuleSet{
		Version: "default-v1",
		Rules: []domain.RuleSpec{
			enabled("high_amount", domain.CategoryGeneric, 1.0),
			enabled("velocity_1h", domain.CategoryGeneric, 1.0),
			enabled("velocity_24h", domain.CategoryGeneric, 1.0),
			enabled("amount_deviation", domain.CategoryGeneric, 1.5),
			enabled("new_counterparty", domain.CategoryGeneric, 1.0),
			enabled("low_activity_large_transfer", domain.CategoryGeneric, 2.0),

			enabled("payroll_recent_account_change", domain.CategoryPayroll, 3.0),
			enabled("payroll_unverified_account_change", domain.CategoryPayroll, 4.0),
			enabled("payroll_first_after_change", domain.CategoryPayroll, 2.5),

			enabled("beneficiary_payment_after_change", domain.CategoryBeneficiary, 5.0),
			enabled("beneficiary_unverified_change", domain.CategoryBeneficiary, 4.5),
			enabled("beneficiary_suspicious_change_source", domain.CategoryBeneficiary, 3.5),

			enabled("transfer_after_device_change", domain.CategoryAccountTakeover, 3.0),
			enabled("rapid_device_changes", domain.CategoryAccountTakeover, 3.0),

			enabled("duplicate_check", domain.CategoryCheck, 3.0),
			enabled("rapid_check_sequence", domain.CategoryCheck, 2.0),

			enabled("odd_hours_large_transaction", domain.CategoryOddHours, 3.5),
			enabled("odd_hours_weekend_large", domain.CategoryOddHours, 4.5),
			enabled("odd_hours_unusual_for_account", domain.CategoryOddHours, 3.0),
			enabled("odd_hours_first_occurrence", domain.CategoryOddHours, 2.5),
			enabled("odd_hours_repeated", domain.CategoryOddHours, 3.5),
			enabled("odd_hours_international", domain.CategoryOddHours, 5.0),

			enabled("high_risk_country", domain.CategoryGeographic, 3.5),
			enabled("elevated_risk_country", domain.CategoryGeographic, 2.5),
			enabled("unexpected_country_routing", domain.CategoryGeographic, 2.5),
			enabled("domestic_to_foreign_switch", domain.CategoryGeographic, 3.0),
			enabled("multiple_countries_rapid", domain.CategoryGeographic, 2.0),
			enabled("first_international_payment", domain.CategoryGeographic, 1.5),

			enabled("suspicious_chain", domain.CategoryChain, 2.0),
			enabled("credit_refund_transfer_chain", domain.CategoryChain, 2.5),
			enabled("layering_pattern", domain.CategoryChain, 2.0),
			enabled("rapid_reversals", domain.CategoryChain, 1.5),
			enabled("flow_through", domain.CategoryChain, 2.0),
		},
		Thresholds:       domain.DefaultThresholds(),
		ChainBlendWeight: 0.3,
	}
}
