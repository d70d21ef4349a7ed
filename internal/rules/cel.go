package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/openrisk/kestrel/internal/domain"
)

// celEnv is shared by all expression rules: the variable surface is fixed, so
// one environment compiles every expression.
var (
	celEnvOnce sync.Once
	celEnvInst *cel.Env
	celEnvErr  error
)

func celEnviron() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnvInst, celEnvErr = cel.NewEnv(
			cel.Variable("amount", cel.DoubleType),
			cel.Variable("currency", cel.StringType),
			cel.Variable("tx_type", cel.StringType),
			cel.Variable("direction", cel.StringType),
			cel.Variable("account_id", cel.StringType),
			cel.Variable("counterparty_id", cel.StringType),

			cel.Variable("velocity_1h", cel.IntType),
			cel.Variable("velocity_6h", cel.IntType),
			cel.Variable("velocity_24h", cel.IntType),
			cel.Variable("velocity_168h", cel.IntType),

			cel.Variable("amount_mean", cel.DoubleType),
			cel.Variable("amount_stddev", cel.DoubleType),
			cel.Variable("amount_deviation", cel.DoubleType),
			cel.Variable("history_depth", cel.IntType),
			cel.Variable("insufficient_history", cel.BoolType),

			cel.Variable("new_counterparty", cel.BoolType),
			cel.Variable("flow_through_ratio", cel.DoubleType),
			cel.Variable("days_since_account_change", cel.DoubleType),
			cel.Variable("days_since_beneficiary_change", cel.DoubleType),
			cel.Variable("days_since_device_change", cel.DoubleType),
			cel.Variable("geo_risk", cel.BoolType),
			cel.Variable("device_risk", cel.BoolType),

			cel.Variable("odd_hours", cel.BoolType),
			cel.Variable("weekend", cel.BoolType),
			cel.Variable("same_hour_count", cel.IntType),
			cel.Variable("odd_hours_count", cel.IntType),

			cel.Variable("country", cel.StringType),
			cel.Variable("high_risk_country", cel.BoolType),
			cel.Variable("new_country_for_counterparty", cel.BoolType),
			cel.Variable("first_international", cel.BoolType),

			cel.Variable("chain_count", cel.IntType),
			cel.Variable("chain_max_suspicion", cel.DoubleType),
		)
	})
	return celEnvInst, celEnvErr
}

// CELRule is an expression-backed rule. Operators add detection logic through
// rule-set configuration without evaluator code changes.
type CELRule struct {
	id       string
	category domain.Category
	weight   float64
	source   string
	program  cel.Program
}

// NewCELRule compiles a rule expression. The expression must evaluate to a
// boolean over the snapshot/transaction variable surface.
func NewCELRule(spec domain.RuleSpec) (*CELRule, error) {
	env, err := celEnviron()
	if err != nil {
		return nil, domain.ConfigErrorf("cel environment: %v", err)
	}

	ast, issues := env.Compile(spec.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, domain.ConfigErrorf("rule %s: %v", spec.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, domain.ConfigErrorf("rule %s: expression must return bool, got %s", spec.ID, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, domain.ConfigErrorf("rule %s: %v", spec.ID, err)
	}

	return &CELRule{
		id:       spec.ID,
		category: spec.Category,
		weight:   spec.Weight,
		source:   spec.Expression,
		program:  program,
	}, nil
}

func (r *CELRule) ID() string                { return r.id }
func (r *CELRule) Category() domain.Category { return r.category }
func (r *CELRule) Weight() float64           { return r.weight }

// Evaluate runs the compiled program against a flattened activation of the
// transaction and snapshot.
func (r *CELRule) Evaluate(tx *domain.Transaction, snap *domain.ContextSnapshot, chains *domain.ChainAnalysis) (bool, error) {
	out, _, err := r.program.Eval(activation(tx, snap, chains))
	if err != nil {
		return false, err
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out)
	}
	return bool(b), nil
}

func (r *CELRule) Explain(tx *domain.Transaction, snap *domain.ContextSnapshot) string {
	return fmt.Sprintf("Custom rule matched: %s", r.source)
}

func activation(tx *domain.Transaction, snap *domain.ContextSnapshot, chains *domain.ChainAnalysis) map[string]any {
	var chainCount int
	var maxSuspicion float64
	if chains != nil {
		chainCount = chains.TotalCount()
		maxSuspicion = chains.MaxSuspicion
	}
	return map[string]any{
		"amount":          tx.Amount,
		"currency":        tx.Currency,
		"tx_type":         tx.Type,
		"direction":       string(tx.InferDirection()),
		"account_id":      tx.AccountID,
		"counterparty_id": tx.CounterpartyID,

		"velocity_1h":   int64(snap.Window(domain.Window1h).Count),
		"velocity_6h":   int64(snap.Window(domain.Window6h).Count),
		"velocity_24h":  int64(snap.Window(domain.Window24h).Count),
		"velocity_168h": int64(snap.Window(domain.Window168h).Count),

		"amount_mean":          snap.AmountMean,
		"amount_stddev":        snap.AmountStddev,
		"amount_deviation":     snap.AmountDeviation(tx.Amount),
		"history_depth":        int64(snap.HistoryDepth),
		"insufficient_history": snap.InsufficientHistory,

		"new_counterparty":              snap.NewCounterparty,
		"flow_through_ratio":            snap.FlowThroughRatio,
		"days_since_account_change":     snap.AccountChange.DaysSince,
		"days_since_beneficiary_change": snap.BeneficiaryChange.DaysSince,
		"days_since_device_change":      snap.DeviceChange.DaysSince,
		"geo_risk":                      snap.GeoRisk,
		"device_risk":                   snap.DeviceRisk,

		"odd_hours":       snap.OddHours,
		"weekend":         snap.Weekend,
		"same_hour_count": int64(snap.SameHourCount),
		"odd_hours_count": int64(snap.OddHoursCount),

		"country":                      snap.Country,
		"high_risk_country":            snap.HighRiskCountry,
		"new_country_for_counterparty": snap.NewCountryForCounterparty,
		"first_international":          snap.FirstInternational,

		"chain_count":         int64(chainCount),
		"chain_max_suspicion": maxSuspicion,
	}
}
