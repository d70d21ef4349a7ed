package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

// Built-in rule library. Each rule registers a constructor keyed by its id;
// the rule set enables instances and overrides weights/params per version.
//
// Params are tuning knobs with the defaults shown; explanations are fixed at
// construction so audit records stay identical across evaluations.

func init() {
	register("high_amount", newHighAmountRule)
	register("velocity_1h", velocityRule(domain.Window1h, "1 hour", 5))
	register("velocity_6h", velocityRule(domain.Window6h, "6 hours", 10))
	register("velocity_24h", velocityRule(domain.Window24h, "24 hours", 20))
	register("velocity_168h", velocityRule(domain.Window168h, "7 days", 60))
	register("amount_deviation", newAmountDeviationRule)
	register("new_counterparty", newNewCounterpartyRule)
	register("low_activity_large_transfer", newLowActivityLargeTransferRule)

	register("payroll_recent_account_change", newPayrollRecentChangeRule)
	register("payroll_unverified_account_change", newPayrollUnverifiedChangeRule)
	register("payroll_first_after_change", newPayrollFirstAfterChangeRule)

	register("beneficiary_payment_after_change", newBeneficiaryPaymentAfterChangeRule)
	register("beneficiary_unverified_change", newBeneficiaryUnverifiedChangeRule)
	register("beneficiary_suspicious_change_source", newBeneficiarySuspiciousSourceRule)

	register("transfer_after_device_change", newTransferAfterDeviceChangeRule)
	register("rapid_device_changes", newRapidDeviceChangesRule)

	register("duplicate_check", newDuplicateCheckRule)
	register("rapid_check_sequence", newRapidCheckSequenceRule)

	register("odd_hours_transaction", newOddHoursRule)
	register("odd_hours_large_transaction", newOddHoursLargeRule)
	register("odd_hours_weekend_large", newOddHoursWeekendLargeRule)
	register("odd_hours_outgoing_transfer", newOddHoursOutgoingRule)
	register("odd_hours_unusual_for_account", newOddHoursUnusualHourRule)
	register("odd_hours_first_occurrence", newOddHoursFirstOccurrenceRule)
	register("odd_hours_repeated", newOddHoursRepeatedRule)
	register("odd_hours_international", newOddHoursInternationalRule)

	register("high_risk_country", newHighRiskCountryRule)
	register("elevated_risk_country", newElevatedRiskCountryRule)
	register("unexpected_country_routing", newUnexpectedCountryRoutingRule)
	register("domestic_to_foreign_switch", newDomesticToForeignSwitchRule)
	register("multiple_countries_rapid", newMultipleCountriesRapidRule)
	register("first_international_payment", newFirstInternationalPaymentRule)

	register("suspicious_chain", newSuspiciousChainRule)
	register("credit_refund_transfer_chain", newCreditRefundTransferRule)
	register("layering_pattern", newLayeringPatternRule)
	register("rapid_reversals", newRapidReversalsRule)
	register("flow_through", newFlowThroughRule)
}

func isPayroll(tx *domain.Transaction) bool {
	return strings.ToLower(tx.Type) == "payroll"
}

// --- generic ---

func newHighAmountRule(spec domain.RuleSpec) (Rule, error) {
	threshold := spec.Param("threshold", 10000)
	return newPredicateRule(spec,
		fmt.Sprintf("Transaction amount exceeds $%.2f", threshold),
		func(tx *domain.Transaction, _ *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return tx.Amount > threshold, nil
		}), nil
}

func velocityRule(window time.Duration, label string, defMax float64) Constructor {
	return func(spec domain.RuleSpec) (Rule, error) {
		maxCount := int(spec.Param("max_count", defMax))
		return newPredicateRule(spec,
			fmt.Sprintf("More than %d transactions in %s", maxCount, label),
			func(_ *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
				return snap.Window(window).Count > maxCount, nil
			}), nil
	}
}

func newAmountDeviationRule(spec domain.RuleSpec) (Rule, error) {
	threshold := spec.Param("stddev_threshold", 3)
	return newPredicateRule(spec,
		fmt.Sprintf("Transaction amount deviates from the account average by more than %.1f standard deviations", threshold),
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			if snap.InsufficientHistory {
				// Statistics are undefined; deviation cannot trigger.
				return false, nil
			}
			return snap.AmountDeviation(tx.Amount) > threshold, nil
		}), nil
}

func newNewCounterpartyRule(spec domain.RuleSpec) (Rule, error) {
	return newPredicateRule(spec,
		"Transaction with a previously unseen counterparty",
		func(_ *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return snap.NewCounterparty, nil
		}), nil
}

func newLowActivityLargeTransferRule(spec domain.RuleSpec) (Rule, error) {
	maxActivity := int(spec.Param("max_activity", 5))
	multiplier := spec.Param("amount_multiplier", 3)
	minAmount := spec.Param("min_amount", 1000)
	explain := fmt.Sprintf(
		"Large transfer ($%.2f+, %.1fx average) from a low-activity account (<=%d transactions in lookback)",
		minAmount, multiplier, maxActivity)
	return newPredicateRule(spec, explain,
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			if !tx.IsDebit() || tx.Amount < minAmount {
				return false, nil
			}
			if snap.HistoryDepth > maxActivity {
				return false, nil
			}
			if snap.InsufficientHistory {
				// A dormant account has no usable average: the absolute
				// floor alone decides, never a division.
				return true, nil
			}
			return tx.Amount >= snap.AmountMean*multiplier, nil
		}), nil
}

// --- payroll ---

func newPayrollRecentChangeRule(spec domain.RuleSpec) (Rule, error) {
	maxDays := spec.Param("max_days", 14)
	return newPredicateRule(spec,
		fmt.Sprintf("Payroll transaction to a bank account changed within %.0f days", maxDays),
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return isPayroll(tx) && snap.AccountChange.Seen && snap.AccountChange.DaysSince <= maxDays, nil
		}), nil
}

func newPayrollUnverifiedChangeRule(spec domain.RuleSpec) (Rule, error) {
	maxDays := spec.Param("max_days", 30)
	return newPredicateRule(spec,
		"Payroll transaction after an unverified bank account change",
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			ch := snap.AccountChange
			return isPayroll(tx) && ch.Seen && !ch.Verified && ch.DaysSince <= maxDays, nil
		}), nil
}

func newPayrollFirstAfterChangeRule(spec domain.RuleSpec) (Rule, error) {
	return newPredicateRule(spec,
		"First payroll transaction after an account information change",
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return isPayroll(tx) && snap.AccountChange.Seen && snap.AccountChange.FirstMovementAfter, nil
		}), nil
}

// --- beneficiary ---

func newBeneficiaryPaymentAfterChangeRule(spec domain.RuleSpec) (Rule, error) {
	maxHours := spec.Param("max_hours", 24)
	return newPredicateRule(spec,
		fmt.Sprintf("Payment to a beneficiary within %.0f hours of an account change", maxHours),
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			ch := snap.BeneficiaryChange
			return tx.IsDebit() && ch.Seen && ch.DaysSince*24 <= maxHours, nil
		}), nil
}

func newBeneficiaryUnverifiedChangeRule(spec domain.RuleSpec) (Rule, error) {
	maxDays := spec.Param("max_days", 30)
	return newPredicateRule(spec,
		"Payment to a beneficiary with unverified banking information changes",
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			ch := snap.BeneficiaryChange
			return tx.IsDebit() && ch.Seen && !ch.Verified && ch.DaysSince <= maxDays, nil
		}), nil
}

func newBeneficiarySuspiciousSourceRule(spec domain.RuleSpec) (Rule, error) {
	maxDays := spec.Param("max_days", 30)
	return newPredicateRule(spec,
		"Beneficiary account changed via email/phone/fax request rather than the secure portal",
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			ch := snap.BeneficiaryChange
			return tx.IsDebit() && ch.Seen && ch.DaysSince <= maxDays &&
				domain.SuspiciousChangeSources[strings.ToLower(ch.Source)], nil
		}), nil
}

// --- account takeover ---

func newTransferAfterDeviceChangeRule(spec domain.RuleSpec) (Rule, error) {
	maxHours := spec.Param("max_hours", 48)
	return newPredicateRule(spec,
		fmt.Sprintf("Outgoing transfer within %.0f hours of a phone/device change", maxHours),
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			ch := snap.DeviceChange
			return tx.IsDebit() && ch.Seen && ch.DaysSince*24 <= maxHours, nil
		}), nil
}

func newRapidDeviceChangesRule(spec domain.RuleSpec) (Rule, error) {
	minChanges := int(spec.Param("min_changes", 3))
	return newPredicateRule(spec,
		fmt.Sprintf("Multiple phone/device changes (%d+) in the lookback window", minChanges),
		func(_ *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return snap.DeviceChange.CountInWindow >= minChanges, nil
		}), nil
}

// --- check ---

func newDuplicateCheckRule(spec domain.RuleSpec) (Rule, error) {
	return newPredicateRule(spec,
		"Same check (number, amount, routing) deposited more than once within the lookback window",
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			if tx.MetaString("check_number") == "" {
				return false, nil
			}
			return snap.DuplicateCheckCount >= 1, nil
		}), nil
}

func newRapidCheckSequenceRule(spec domain.RuleSpec) (Rule, error) {
	minChecks := int(spec.Param("min_checks", 3))
	minTotal := spec.Param("min_total", 2000)
	return newPredicateRule(spec,
		fmt.Sprintf("Rapid check deposits: %d+ checks in 1 hour totaling $%.2f+", minChecks, minTotal),
		func(_ *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return snap.ChecksLastHour >= minChecks && snap.ChecksLastHourSum >= minTotal, nil
		}), nil
}

// --- odd hours ---
//
// The late-night window is [22:00, 06:00). Timing alone is a weak signal;
// the combined rules carry the weight.

func newOddHoursRule(spec domain.RuleSpec) (Rule, error) {
	return newPredicateRule(spec,
		fmt.Sprintf("Transaction initiated during odd hours (%02d:00 - %02d:00)", domain.OddHoursStart, domain.OddHoursEnd),
		func(_ *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return snap.OddHours, nil
		}), nil
}

func newOddHoursLargeRule(spec domain.RuleSpec) (Rule, error) {
	threshold := spec.Param("threshold", 5000)
	return newPredicateRule(spec,
		fmt.Sprintf("Large transaction ($%.2f+) initiated during odd hours", threshold),
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return snap.OddHours && tx.Amount >= threshold, nil
		}), nil
}

func newOddHoursWeekendLargeRule(spec domain.RuleSpec) (Rule, error) {
	minAmount := spec.Param("min_amount", 5000)
	return newPredicateRule(spec,
		fmt.Sprintf("Large transaction ($%.2f+) during weekend odd hours", minAmount),
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return snap.OddHours && snap.Weekend && tx.Amount >= minAmount, nil
		}), nil
}

func newOddHoursOutgoingRule(spec domain.RuleSpec) (Rule, error) {
	minAmount := spec.Param("min_amount", 1000)
	return newPredicateRule(spec,
		fmt.Sprintf("Outgoing transfer ($%.2f+) during odd hours", minAmount),
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return snap.OddHours && tx.IsDebit() && tx.Amount >= minAmount, nil
		}), nil
}

func newOddHoursUnusualHourRule(spec domain.RuleSpec) (Rule, error) {
	minHistory := int(spec.Param("min_history", 10))
	return newPredicateRule(spec,
		"Transaction at an hour when the account has never transacted before",
		func(_ *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return snap.HistoryDepth >= minHistory && snap.SameHourCount == 0, nil
		}), nil
}

func newOddHoursFirstOccurrenceRule(spec domain.RuleSpec) (Rule, error) {
	minHistory := int(spec.Param("min_history", 5))
	return newPredicateRule(spec,
		"First odd-hours transaction on an account with no recent late-night activity",
		func(_ *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return snap.OddHours && snap.HistoryDepth >= minHistory && snap.OddHoursCount == 0, nil
		}), nil
}

func newOddHoursRepeatedRule(spec domain.RuleSpec) (Rule, error) {
	minCount := int(spec.Param("min_count", 3))
	minTotal := spec.Param("min_total", 10000)
	return newPredicateRule(spec,
		fmt.Sprintf("Systematic odd-hours activity: %d+ late-night transactions totaling $%.2f+ in 7 days", minCount, minTotal),
		func(_ *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return snap.OddHours && snap.OddHoursCount >= minCount && snap.OddHoursSum >= minTotal, nil
		}), nil
}

func newOddHoursInternationalRule(spec domain.RuleSpec) (Rule, error) {
	minAmount := spec.Param("min_amount", 5000)
	return newPredicateRule(spec,
		fmt.Sprintf("International transfer ($%.2f+) during odd hours", minAmount),
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			if !snap.OddHours || tx.Amount < minAmount {
				return false, nil
			}
			typ := strings.ToLower(tx.Type)
			international := strings.Contains(typ, "international") ||
				strings.Contains(typ, "wire") ||
				strings.Contains(typ, "swift") ||
				(snap.Country != "" && snap.Country != domain.HomeCountry)
			return international, nil
		}), nil
}

// --- geographic ---

func newHighRiskCountryRule(spec domain.RuleSpec) (Rule, error) {
	return newPredicateRule(spec,
		"Payment routed to a high-risk or sanctioned country",
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return tx.IsDebit() && snap.HighRiskCountry, nil
		}), nil
}

func newElevatedRiskCountryRule(spec domain.RuleSpec) (Rule, error) {
	return newPredicateRule(spec,
		"Payment routed to an elevated-risk country",
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return tx.IsDebit() && snap.ElevatedRiskCountry, nil
		}), nil
}

func newUnexpectedCountryRoutingRule(spec domain.RuleSpec) (Rule, error) {
	return newPredicateRule(spec,
		"Payment routed to a country never seen in the counterparty's history",
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return tx.IsDebit() && snap.NewCountryForCounterparty, nil
		}), nil
}

func newDomesticToForeignSwitchRule(spec domain.RuleSpec) (Rule, error) {
	return newPredicateRule(spec,
		"Counterparty always paid domestically is suddenly paid through a foreign account",
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return tx.IsDebit() &&
				snap.Country != "" && snap.Country != domain.HomeCountry &&
				snap.DomesticOnlyCounterparty, nil
		}), nil
}

func newMultipleCountriesRapidRule(spec domain.RuleSpec) (Rule, error) {
	minCountries := int(spec.Param("min_countries", 3))
	return newPredicateRule(spec,
		fmt.Sprintf("Counterparty paid through %d+ different countries within 30 days", minCountries),
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return tx.IsDebit() && snap.CounterpartyCountries30d >= minCountries, nil
		}), nil
}

func newFirstInternationalPaymentRule(spec domain.RuleSpec) (Rule, error) {
	return newPredicateRule(spec,
		"First international payment from this account",
		func(tx *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return tx.IsDebit() && snap.FirstInternational, nil
		}), nil
}

// --- chain ---

func newSuspiciousChainRule(spec domain.RuleSpec) (Rule, error) {
	threshold := spec.Param("suspicion_threshold", 0.7)
	return newPredicateRule(spec,
		fmt.Sprintf("Suspicious transaction chain detected (suspicion >= %.2f)", threshold),
		func(_ *domain.Transaction, _ *domain.ContextSnapshot, chains *domain.ChainAnalysis) (bool, error) {
			return chains != nil && chains.MaxSuspicion >= threshold, nil
		}), nil
}

func newCreditRefundTransferRule(spec domain.RuleSpec) (Rule, error) {
	minChains := int(spec.Param("min_chains", 1))
	return newPredicateRule(spec,
		"Credit-refund-transfer chain detected: funds layered through a refund before moving on",
		func(_ *domain.Transaction, _ *domain.ContextSnapshot, chains *domain.ChainAnalysis) (bool, error) {
			return chains != nil && chains.CreditRefundCount >= minChains, nil
		}), nil
}

func newLayeringPatternRule(spec domain.RuleSpec) (Rule, error) {
	minPatterns := int(spec.Param("min_patterns", 1))
	return newPredicateRule(spec,
		"Layering pattern detected: multiple small credits consolidated into a larger transfer",
		func(_ *domain.Transaction, _ *domain.ContextSnapshot, chains *domain.ChainAnalysis) (bool, error) {
			return chains != nil && chains.LayeringCount >= minPatterns, nil
		}), nil
}

func newRapidReversalsRule(spec domain.RuleSpec) (Rule, error) {
	minReversals := int(spec.Param("min_reversals", 2))
	return newPredicateRule(spec,
		fmt.Sprintf("Rapid credit-reversal pairs detected (%d+)", minReversals),
		func(_ *domain.Transaction, _ *domain.ContextSnapshot, chains *domain.ChainAnalysis) (bool, error) {
			return chains != nil && chains.RapidReversalCount >= minReversals, nil
		}), nil
}

func newFlowThroughRule(spec domain.RuleSpec) (Rule, error) {
	minRatio := spec.Param("min_ratio", 0.8)
	minCredits := int(spec.Param("min_credits", 3))
	return newPredicateRule(spec,
		fmt.Sprintf("Account forwards %.0f%%+ of incoming funds within 7 days (mule pattern)", minRatio*100),
		func(_ *domain.Transaction, snap *domain.ContextSnapshot, _ *domain.ChainAnalysis) (bool, error) {
			return snap.Window(domain.Window168h).CreditCount >= minCredits &&
				snap.FlowThroughRatio >= minRatio, nil
		}), nil
}
