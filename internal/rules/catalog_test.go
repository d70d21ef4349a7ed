package rules

import (
	"testing"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

func spec(id string, weight float64) domain.RuleSpec {
	return domain.RuleSpec{ID: id, Category: domain.CategoryGeneric, Weight: weight, Enabled: true}
}

func snapshotWith(depth int) *domain.ContextSnapshot {
	return &domain.ContextSnapshot{
		AccountID:    "acc-1",
		AsOf:         time.Now().UTC(),
		HistoryDepth: depth,
		SampleCount:  depth,
		Velocity:     map[time.Duration]domain.WindowStats{},
	}
}

func TestCatalogValidation(t *testing.T) {
	t.Run("MissingVersion", func(t *testing.T) {
		_, err := NewCatalog(&domain.RuleSet{Rules: []domain.RuleSpec{spec("high_amount", 1)}})
		if err == nil || !IsConfigError(err) {
			t.Fatalf("expected config error, got %v", err)
		}
	})

	t.Run("ZeroTotalWeight", func(t *testing.T) {
		rs := &domain.RuleSet{
			Version: "v1",
			Rules:   []domain.RuleSpec{{ID: "high_amount", Weight: 5, Enabled: false}},
		}
		_, err := NewCatalog(rs)
		if err == nil || !IsConfigError(err) {
			t.Fatalf("expected config error for zero total weight, got %v", err)
		}
	})

	t.Run("UnknownRuleID", func(t *testing.T) {
		rs := &domain.RuleSet{Version: "v1", Rules: []domain.RuleSpec{spec("no_such_rule", 1)}}
		_, err := NewCatalog(rs)
		if err == nil || !IsConfigError(err) {
			t.Fatalf("expected config error for unknown id, got %v", err)
		}
	})

	t.Run("NonPositiveWeight", func(t *testing.T) {
		rs := &domain.RuleSet{Version: "v1", Rules: []domain.RuleSpec{spec("high_amount", -1)}}
		_, err := NewCatalog(rs)
		if err == nil || !IsConfigError(err) {
			t.Fatalf("expected config error for negative weight, got %v", err)
		}
	})

	t.Run("DisabledRulesExcluded", func(t *testing.T) {
		rs := &domain.RuleSet{
			Version: "v1",
			Rules: []domain.RuleSpec{
				spec("high_amount", 2),
				{ID: "velocity_1h", Weight: 100, Enabled: false},
			},
		}
		c, err := NewCatalog(rs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Len() != 1 {
			t.Errorf("expected 1 active rule, got %d", c.Len())
		}
		if c.TotalWeight() != 2 {
			t.Errorf("expected total weight 2, got %v", c.TotalWeight())
		}
	})
}

func TestHighAmountRule(t *testing.T) {
	rs := &domain.RuleSet{Version: "v1", Rules: []domain.RuleSpec{spec("high_amount", 1)}}
	c, err := NewCatalog(rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := snapshotWith(10)
	tx := &domain.Transaction{ID: "t1", AccountID: "acc-1", Type: "transfer", Amount: 15000}
	triggered, errs := c.EvaluateAll(tx, snap, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected rule errors: %v", errs)
	}
	if len(triggered) != 1 || triggered[0].RuleID != "high_amount" {
		t.Fatalf("expected high_amount to fire, got %v", triggered)
	}
	if triggered[0].Explanation == "" {
		t.Error("expected an explanation on the triggered rule")
	}

	tx.Amount = 9999
	triggered, _ = c.EvaluateAll(tx, snap, nil)
	if len(triggered) != 0 {
		t.Errorf("expected no trigger below threshold, got %v", triggered)
	}

	t.Run("ParamOverride", func(t *testing.T) {
		custom := spec("high_amount", 1)
		custom.Params = map[string]float64{"threshold": 500}
		c, err := NewCatalog(&domain.RuleSet{Version: "v2", Rules: []domain.RuleSpec{custom}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		triggered, _ := c.EvaluateAll(&domain.Transaction{Amount: 600, Type: "transfer"}, snap, nil)
		if len(triggered) != 1 {
			t.Errorf("expected trigger with lowered threshold, got %v", triggered)
		}
	})
}

func TestVelocityRule(t *testing.T) {
	rs := &domain.RuleSet{Version: "v1", Rules: []domain.RuleSpec{spec("velocity_1h", 1)}}
	c, err := NewCatalog(rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := snapshotWith(10)
	snap.Velocity[domain.Window1h] = domain.WindowStats{Count: 6}

	triggered, _ := c.EvaluateAll(&domain.Transaction{Type: "transfer", Amount: 10}, snap, nil)
	if len(triggered) != 1 {
		t.Errorf("expected velocity rule to fire at 6 tx/hour, got %v", triggered)
	}

	snap.Velocity[domain.Window1h] = domain.WindowStats{Count: 5}
	triggered, _ = c.EvaluateAll(&domain.Transaction{Type: "transfer", Amount: 10}, snap, nil)
	if len(triggered) != 0 {
		t.Errorf("expected no trigger at exactly the limit, got %v", triggered)
	}
}

func TestAmountDeviationUndefinedOnSparseHistory(t *testing.T) {
	rs := &domain.RuleSet{Version: "v1", Rules: []domain.RuleSpec{spec("amount_deviation", 1)}}
	c, err := NewCatalog(rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := snapshotWith(1)
	snap.InsufficientHistory = true

	triggered, errs := c.EvaluateAll(&domain.Transaction{Type: "transfer", Amount: 1e9}, snap, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(triggered) != 0 {
		t.Error("deviation rule must not fire when statistics are undefined")
	}
}

func TestDuplicateCheckRule(t *testing.T) {
	rs := &domain.RuleSet{Version: "v1", Rules: []domain.RuleSpec{spec("duplicate_check", 1)}}
	c, err := NewCatalog(rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := snapshotWith(5)
	snap.DuplicateCheckCount = 1
	tx := &domain.Transaction{
		Type:     "check_deposit",
		Amount:   500,
		Metadata: map[string]interface{}{"check_number": "1042"},
	}

	triggered, _ := c.EvaluateAll(tx, snap, nil)
	if len(triggered) != 1 {
		t.Errorf("expected duplicate check to fire, got %v", triggered)
	}

	t.Run("NoCheckNumberNoTrigger", func(t *testing.T) {
		plain := &domain.Transaction{Type: "transfer", Amount: 500}
		triggered, _ := c.EvaluateAll(plain, snap, nil)
		if len(triggered) != 0 {
			t.Errorf("rule fired without a check number: %v", triggered)
		}
	})
}

func TestChainRules(t *testing.T) {
	rs := &domain.RuleSet{
		Version: "v1",
		Rules: []domain.RuleSpec{
			spec("suspicious_chain", 1),
			spec("layering_pattern", 1),
			spec("rapid_reversals", 1),
		},
	}
	c, err := NewCatalog(rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := snapshotWith(5)
	tx := &domain.Transaction{Type: "transfer", Amount: 100}

	chains := &domain.ChainAnalysis{
		Findings:           []domain.ChainFinding{{Pattern: domain.PatternLayeringConsolidation, Suspicion: 0.9}},
		MaxSuspicion:       0.9,
		LayeringCount:      1,
		RapidReversalCount: 2,
	}
	triggered, _ := c.EvaluateAll(tx, snap, chains)
	if len(triggered) != 3 {
		t.Errorf("expected all three chain rules to fire, got %v", triggered)
	}

	t.Run("NilAnalysisSafe", func(t *testing.T) {
		triggered, errs := c.EvaluateAll(tx, snap, nil)
		if len(errs) != 0 {
			t.Fatalf("unexpected errors with nil analysis: %v", errs)
		}
		if len(triggered) != 0 {
			t.Errorf("chain rules fired without chain analysis: %v", triggered)
		}
	})
}

func TestCELRule(t *testing.T) {
	celSpec := domain.RuleSpec{
		ID:         "geo_large_transfer",
		Category:   domain.CategoryGeneric,
		Weight:     2,
		Enabled:    true,
		Expression: `geo_risk && amount > 1000.0`,
	}
	rs := &domain.RuleSet{Version: "v1", Rules: []domain.RuleSpec{celSpec}}
	c, err := NewCatalog(rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := snapshotWith(5)
	snap.GeoRisk = true
	triggered, _ := c.EvaluateAll(&domain.Transaction{Type: "transfer", Amount: 2000}, snap, nil)
	if len(triggered) != 1 || triggered[0].RuleID != "geo_large_transfer" {
		t.Fatalf("expected expression rule to fire, got %v", triggered)
	}

	snap.GeoRisk = false
	triggered, _ = c.EvaluateAll(&domain.Transaction{Type: "transfer", Amount: 2000}, snap, nil)
	if len(triggered) != 0 {
		t.Errorf("expected no trigger without geo risk, got %v", triggered)
	}
}

func TestCELCompileErrors(t *testing.T) {
	cases := []struct {
		name string
		expr string
	}{
		{"InvalidSyntax", `amount >`},
		{"UnknownVariable", `no_such_var > 1.0`},
		{"NonBoolean", `amount + 1.0`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCELRule(domain.RuleSpec{ID: "bad", Weight: 1, Expression: tc.expr})
			if err == nil || !IsConfigError(err) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestRuleErrorIsolation(t *testing.T) {
	// Integer division by zero fails at evaluation time, not compile time.
	failing := domain.RuleSpec{
		ID:         "failing_rule",
		Weight:     1,
		Enabled:    true,
		Expression: `velocity_1h / (velocity_1h - velocity_1h) > 0`,
	}
	rs := &domain.RuleSet{
		Version: "v1",
		Rules:   []domain.RuleSpec{spec("high_amount", 1), failing},
	}
	c, err := NewCatalog(rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := snapshotWith(5)
	triggered, errs := c.EvaluateAll(&domain.Transaction{Type: "transfer", Amount: 20000}, snap, nil)

	if len(errs) != 1 || errs[0].RuleID != "failing_rule" {
		t.Fatalf("expected one contained error for failing_rule, got %v", errs)
	}
	if len(triggered) != 1 || triggered[0].RuleID != "high_amount" {
		t.Fatalf("healthy rule must still evaluate, got %v", triggered)
	}
}

func TestEvaluateAllDeterministic(t *testing.T) {
	c, err := NewCatalog(DefaultRuleSet())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := snapshotWith(10)
	snap.Velocity[domain.Window1h] = domain.WindowStats{Count: 8}
	snap.NewCounterparty = true
	tx := &domain.Transaction{Type: "transfer", Amount: 50000, CounterpartyID: "cp-x"}

	first, _ := c.EvaluateAll(tx, snap, nil)
	for i := 0; i < 5; i++ {
		again, _ := c.EvaluateAll(tx, snap, nil)
		if len(again) != len(first) {
			t.Fatalf("run %d: trigger count changed from %d to %d", i, len(first), len(again))
		}
		for j := range again {
			if again[j].RuleID != first[j].RuleID {
				t.Fatalf("run %d: rule order changed at %d: %s vs %s",
					i, j, again[j].RuleID, first[j].RuleID)
			}
		}
	}
}

func TestOddHoursRules(t *testing.T) {
	rs := &domain.RuleSet{Version: "v1", Rules: []domain.RuleSpec{
		spec("odd_hours_transaction", 1),
		spec("odd_hours_large_transaction", 2),
		spec("odd_hours_weekend_large", 2),
		spec("odd_hours_outgoing_transfer", 2),
		spec("odd_hours_unusual_for_account", 2),
		spec("odd_hours_first_occurrence", 1),
		spec("odd_hours_repeated", 2),
		spec("odd_hours_international", 3),
	}}
	c, err := NewCatalog(rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hasRule := func(triggered []domain.TriggeredRule, id string) bool {
		for _, tr := range triggered {
			if tr.RuleID == id {
				return true
			}
		}
		return false
	}

	t.Run("LargeNightWireTransfer", func(t *testing.T) {
		snap := snapshotWith(12)
		snap.OddHours = true
		snap.SameHourCount = 0
		tx := &domain.Transaction{ID: "t1", AccountID: "acc-1", Type: "wire", Amount: 8000}
		triggered, errs := c.EvaluateAll(tx, snap, nil)
		if len(errs) != 0 {
			t.Fatalf("unexpected rule errors: %v", errs)
		}
		for _, id := range []string{
			"odd_hours_transaction",
			"odd_hours_large_transaction",
			"odd_hours_outgoing_transfer",
			"odd_hours_unusual_for_account",
			"odd_hours_first_occurrence",
			"odd_hours_international",
		} {
			if !hasRule(triggered, id) {
				t.Errorf("expected %s to fire on a large night wire", id)
			}
		}
		if hasRule(triggered, "odd_hours_weekend_large") {
			t.Error("weekend rule fired on a weekday")
		}
	})

	t.Run("DaytimeQuiet", func(t *testing.T) {
		snap := snapshotWith(12)
		snap.SameHourCount = 4
		tx := &domain.Transaction{ID: "t2", AccountID: "acc-1", Type: "wire", Amount: 8000}
		triggered, _ := c.EvaluateAll(tx, snap, nil)
		if len(triggered) != 0 {
			t.Errorf("no odd-hours rule should fire during business hours, got %v", triggered)
		}
	})

	t.Run("WeekendNight", func(t *testing.T) {
		snap := snapshotWith(12)
		snap.OddHours = true
		snap.Weekend = true
		snap.SameHourCount = 2
		tx := &domain.Transaction{ID: "t3", AccountID: "acc-1", Type: "transfer", Amount: 6000}
		triggered, _ := c.EvaluateAll(tx, snap, nil)
		if !hasRule(triggered, "odd_hours_weekend_large") {
			t.Error("expected weekend odd-hours rule to fire")
		}
	})

	t.Run("RepeatedNightActivity", func(t *testing.T) {
		snap := snapshotWith(12)
		snap.OddHours = true
		snap.SameHourCount = 3
		snap.OddHoursCount = 4
		snap.OddHoursSum = 15000
		tx := &domain.Transaction{ID: "t4", AccountID: "acc-1", Type: "transfer", Amount: 500}
		triggered, _ := c.EvaluateAll(tx, snap, nil)
		if !hasRule(triggered, "odd_hours_repeated") {
			t.Error("expected repeated odd-hours rule to fire")
		}
		if hasRule(triggered, "odd_hours_first_occurrence") {
			t.Error("first-occurrence rule fired despite prior night activity")
		}
	})

	t.Run("SparseHistoryNoBehavioralRules", func(t *testing.T) {
		snap := snapshotWith(2)
		snap.OddHours = true
		snap.SameHourCount = 0
		tx := &domain.Transaction{ID: "t5", AccountID: "acc-1", Type: "transfer", Amount: 500}
		triggered, _ := c.EvaluateAll(tx, snap, nil)
		if hasRule(triggered, "odd_hours_unusual_for_account") ||
			hasRule(triggered, "odd_hours_first_occurrence") {
			t.Error("behavioral odd-hours rules need established history")
		}
	})
}

func TestGeographicRules(t *testing.T) {
	rs := &domain.RuleSet{Version: "v1", Rules: []domain.RuleSpec{
		spec("high_risk_country", 3),
		spec("elevated_risk_country", 2),
		spec("unexpected_country_routing", 2),
		spec("domestic_to_foreign_switch", 3),
		spec("multiple_countries_rapid", 2),
		spec("first_international_payment", 1),
	}}
	c, err := NewCatalog(rs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hasRule := func(triggered []domain.TriggeredRule, id string) bool {
		for _, tr := range triggered {
			if tr.RuleID == id {
				return true
			}
		}
		return false
	}

	t.Run("DomesticVendorPaidAbroad", func(t *testing.T) {
		snap := snapshotWith(10)
		snap.Country = "GB"
		snap.NewCountryForCounterparty = true
		snap.DomesticOnlyCounterparty = true
		snap.FirstInternational = true
		tx := &domain.Transaction{ID: "g1", AccountID: "acc-1", Type: "transfer", Amount: 2000}
		triggered, errs := c.EvaluateAll(tx, snap, nil)
		if len(errs) != 0 {
			t.Fatalf("unexpected rule errors: %v", errs)
		}
		for _, id := range []string{
			"unexpected_country_routing",
			"domestic_to_foreign_switch",
			"first_international_payment",
		} {
			if !hasRule(triggered, id) {
				t.Errorf("expected %s to fire", id)
			}
		}
		if hasRule(triggered, "high_risk_country") {
			t.Error("GB flagged as high risk")
		}
	})

	t.Run("SanctionedCountry", func(t *testing.T) {
		snap := snapshotWith(10)
		snap.Country = "KP"
		snap.HighRiskCountry = true
		tx := &domain.Transaction{ID: "g2", AccountID: "acc-1", Type: "wire", Amount: 2000}
		triggered, _ := c.EvaluateAll(tx, snap, nil)
		if !hasRule(triggered, "high_risk_country") {
			t.Error("expected high-risk country rule to fire")
		}
	})

	t.Run("ElevatedRiskCountry", func(t *testing.T) {
		snap := snapshotWith(10)
		snap.Country = "NG"
		snap.ElevatedRiskCountry = true
		tx := &domain.Transaction{ID: "g3", AccountID: "acc-1", Type: "wire", Amount: 2000}
		triggered, _ := c.EvaluateAll(tx, snap, nil)
		if !hasRule(triggered, "elevated_risk_country") {
			t.Error("expected elevated-risk country rule to fire")
		}
		if hasRule(triggered, "high_risk_country") {
			t.Error("elevated-risk country escalated to high risk")
		}
	})

	t.Run("CountryHoppingVendor", func(t *testing.T) {
		snap := snapshotWith(10)
		snap.Country = "US"
		snap.CounterpartyCountries30d = 3
		tx := &domain.Transaction{ID: "g4", AccountID: "acc-1", Type: "transfer", Amount: 2000}
		triggered, _ := c.EvaluateAll(tx, snap, nil)
		if !hasRule(triggered, "multiple_countries_rapid") {
			t.Error("expected multiple-countries rule to fire")
		}
	})

	t.Run("IncomingCreditIgnored", func(t *testing.T) {
		snap := snapshotWith(10)
		snap.Country = "KP"
		snap.HighRiskCountry = true
		tx := &domain.Transaction{ID: "g5", AccountID: "acc-1", Type: "deposit", Amount: 2000}
		triggered, _ := c.EvaluateAll(tx, snap, nil)
		if len(triggered) != 0 {
			t.Errorf("geographic rules cover outgoing payments only, got %v", triggered)
		}
	})
}

func TestDefaultRuleSet(t *testing.T) {
	rs := DefaultRuleSet()
	c, err := NewCatalog(rs)
	if err != nil {
		t.Fatalf("default rule set must build: %v", err)
	}
	if c.Version() != rs.Version {
		t.Errorf("version mismatch: %s vs %s", c.Version(), rs.Version)
	}
	if c.TotalWeight() != rs.TotalWeight() {
		t.Errorf("weight mismatch: %v vs %v", c.TotalWeight(), rs.TotalWeight())
	}
	if rs.Thresholds.ReviewCost() <= 0 {
		t.Error("default thresholds must carry a positive review cost")
	}
}
