package scoring

import "github.com/opensource-finance/harrier/internal/domain"

// defaultHighRiskCountries is the built-in high-risk corridor list,
// aligned with the FATF monitored jurisdictions. Deployments override
// it via the rule file.
var defaultHighRiskCountries = []string{
	"AF", "IR", "KP", "MM", "SY", "YE",
}

// builtinRules are the default typology rules, used when no rule file
// is configured. Contributions are calibrated so that a single match
// never exceeds the half of the scale and typical multi-typology cases
// land above the high-risk threshold.
func builtinRules() []domain.TypologyRule {
	return []domain.TypologyRule{
		{
			ID:           "structuring-inbound",
			Name:         "Structuring / smurfing",
			Description:  "Many inbound transfers in a short window, consistent with structured placement below reporting thresholds.",
			Predicate:    `inbound_count >= 10 && span_hours <= 72.0`,
			Contribution: 40,
			Rationale:    "Received {inbound_count} inbound transfers totalling {inbound_total} within {span_hours} hours.",
			Enabled:      true,
		},
		{
			ID:           "rapid-high-risk-outbound",
			Name:         "Rapid movement to high-risk jurisdiction",
			Description:  "Outbound transfer to a high-risk corridor shortly after funds arrive.",
			Predicate:    `outbound_count >= 1 && high_risk_dest_count >= 1 && span_hours <= 24.0`,
			Contribution: 45,
			Rationale:    "Sent {high_risk_dest_count} transfer(s) to high-risk jurisdictions within {span_hours} hours of activity.",
			Enabled:      true,
		},
		{
			ID:           "layering-fan-in",
			Name:         "Layering fan-in",
			Description:  "Funds converge from many distinct origin accounts before moving on.",
			Predicate:    `distinct_origin_accounts >= 5 && outbound_count >= 1`,
			Contribution: 30,
			Rationale:    "Funds converged from {distinct_origin_accounts} distinct origin accounts before an outbound movement.",
			Enabled:      true,
		},
		{
			ID:           "profile-deviation",
			Name:         "Activity inconsistent with profile",
			Description:  "Single movement far above the subject's historical monthly volume.",
			Predicate:    `avg_monthly_volume > 0.0 && max_amount > avg_monthly_volume * 3.0`,
			Contribution: 25,
			Rationale:    "Largest movement of {max_amount} exceeds three times the historical monthly volume of {avg_monthly_volume}.",
			Enabled:      true,
		},
		{
			ID:           "cash-intensive-placement",
			Name:         "Cash-intensive placement",
			Description:  "Repeated cash deposits within the evidence window.",
			Predicate:    `cash_count >= 5`,
			Contribution: 20,
			Rationale:    "Observed {cash_count} cash transactions out of {tx_count} total.",
			Enabled:      true,
		},
		{
			ID:           "trade-invoice-wire",
			Name:         "Trade-based invoice pattern",
			Description:  "Wire activity with invoice references in the payment narration, a trade-based laundering indicator.",
			Predicate:    `wire_count >= 1 && narration.contains("invoice")`,
			Contribution: 25,
			Rationale:    "Wire activity carries invoice references in the payment narration across {wire_count} transfer(s).",
			Enabled:      true,
		},
		{
			ID:           "low-value-high-risk-fan-out",
			Name:         "Low-value transfers to high-risk corridor",
			Description:  "Multiple small movements to high-risk jurisdictions, a terrorist-financing indicator.",
			Predicate:    `high_risk_dest_count >= 3 && max_amount < 1000.0`,
			Contribution: 35,
			Rationale:    "{high_risk_dest_count} transfers under 1000 each were sent to high-risk jurisdictions.",
			Enabled:      true,
		},
	}
}

// DefaultRuleSet returns the built-in, version-stamped rule set.
func DefaultRuleSet() (*domain.RuleSet, error) {
	return domain.NewRuleSet(builtinRules(), defaultHighRiskCountries)
}
