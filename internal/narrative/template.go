// Package narrative builds draft suspicious activity narratives from
// scored cases.
package narrative

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// TemplateGenerator produces a structured SAR-style draft from case
// data alone. It is deterministic and needs no external services,
// which makes it the Community tier generator and the fallback when a
// model-backed generator is unavailable.
type TemplateGenerator struct{}

// NewTemplateGenerator creates a template-based narrative generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Name identifies the generator in audit payloads.
func (g *TemplateGenerator) Name() string { return "template" }

// Generate renders the draft narrative for a scored case.
func (g *TemplateGenerator) Generate(ctx context.Context, c *domain.Case) (string, error) {
	if c.Score == nil {
		return "", fmt.Errorf("%w: case %s has no score", domain.ErrGenerationFailed, c.ID)
	}

	var b strings.Builder

	b.WriteString("SUBJECT INFORMATION\n")
	subject := c.SubjectName
	if subject == "" {
		subject = c.SubjectID
	}
	fmt.Fprintf(&b, "This report concerns %s (customer %s, account %s), KYC risk tier %s.\n",
		subject, c.Profile.CustomerID, c.Profile.AccountID, orUnknown(c.Profile.RiskTier))
	if c.Profile.Occupation != "" {
		fmt.Fprintf(&b, "Stated occupation: %s.\n", c.Profile.Occupation)
	}
	if c.Profile.BusinessType != "" {
		fmt.Fprintf(&b, "Business type: %s.\n", c.Profile.BusinessType)
	}

	b.WriteString("\nTRANSACTION SUMMARY\n")
	b.WriteString(transactionSummary(c.Evidence))

	b.WriteString("\nSUSPICIOUS ACTIVITY\n")
	fmt.Fprintf(&b, "The activity scored %d out of %d against rule set %s.\n",
		c.Score.Score, domain.MaxScore, shortVersion(c.Score.RuleSetVersion))
	if len(c.Score.Matches) == 0 {
		b.WriteString("No typology rules matched; the case was opened for manual review.\n")
	} else {
		fmt.Fprintf(&b, "%d typology pattern(s) matched:\n", len(c.Score.Matches))
		for _, m := range c.Score.Matches {
			fmt.Fprintf(&b, "- %s (+%d): %s\n", m.Name, m.Contribution, m.Rationale)
		}
	}

	b.WriteString("\nRECOMMENDATION\n")
	if c.Score.Score >= domain.HighRiskThreshold {
		b.WriteString("The observed activity is consistent with the matched typologies and warrants filing. Escalated for analyst review.\n")
	} else {
		b.WriteString("The observed activity shows elevated indicators below the high-risk threshold. Analyst review is required before filing.\n")
	}

	return b.String(), nil
}

func transactionSummary(evidence []domain.TransactionEvidence) string {
	if len(evidence) == 0 {
		return "No transaction evidence was attached to this case.\n"
	}

	var total float64
	earliest, latest := evidence[0].Timestamp, evidence[0].Timestamp
	currencies := map[string]struct{}{}
	for _, tx := range evidence {
		total += tx.Amount
		if tx.Timestamp.Before(earliest) {
			earliest = tx.Timestamp
		}
		if tx.Timestamp.After(latest) {
			latest = tx.Timestamp
		}
		currencies[tx.Currency] = struct{}{}
	}

	currency := "multiple currencies"
	if len(currencies) == 1 {
		for c := range currencies {
			currency = c
		}
	}

	return fmt.Sprintf("%d transaction(s) totalling %.2f %s between %s and %s.\n",
		len(evidence), total, currency,
		earliest.UTC().Format(time.RFC3339), latest.UTC().Format(time.RFC3339))
}

func shortVersion(version string) string {
	if len(version) > 12 {
		return version[:12]
	}
	return version
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
