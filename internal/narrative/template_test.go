package narrative

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func scoredCase() *domain.Case {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return &domain.Case{
		ID:          "case-001",
		SubjectID:   "cust-001",
		SubjectName: "Acme Imports Ltd",
		Profile: domain.CustomerProfile{
			CustomerID: "cust-001",
			AccountID:  "acct-001",
			RiskTier:   "medium",
			Occupation: "import/export",
		},
		Evidence: []domain.TransactionEvidence{
			{ID: "tx-1", Amount: 950, Currency: "USD", OriginAccountID: "a", DestinationAccountID: "acct-001", Channel: domain.ChannelWire, Timestamp: base},
			{ID: "tx-2", Amount: 44000, Currency: "USD", OriginAccountID: "acct-001", DestinationAccountID: "b", Channel: domain.ChannelSWIFT, Timestamp: base.Add(20 * time.Hour)},
		},
		Score: &domain.ScoreResult{
			Score:    85,
			RawScore: 85,
			Matches: []domain.TypologyMatch{
				{RuleID: "rapid-high-risk-outbound", Name: "Rapid movement to high-risk jurisdiction", Contribution: 45, Rationale: "Sent 1 transfer(s) to high-risk jurisdictions."},
				{RuleID: "structuring-inbound", Name: "Structuring / smurfing", Contribution: 40, Rationale: "Received 47 inbound transfers."},
			},
			RuleSetVersion: "abc123def456789",
		},
		State: domain.StateGenerated,
	}
}

func TestTemplateGeneratorSections(t *testing.T) {
	g := NewTemplateGenerator()
	text, err := g.Generate(context.Background(), scoredCase())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for _, section := range []string{
		"SUBJECT INFORMATION",
		"TRANSACTION SUMMARY",
		"SUSPICIOUS ACTIVITY",
		"RECOMMENDATION",
	} {
		if !strings.Contains(text, section) {
			t.Errorf("narrative missing section %s", section)
		}
	}

	if !strings.Contains(text, "Acme Imports Ltd") {
		t.Errorf("narrative must name the subject")
	}
	if !strings.Contains(text, "scored 85 out of 100") {
		t.Errorf("narrative must state the score")
	}
	if !strings.Contains(text, "Rapid movement to high-risk jurisdiction") {
		t.Errorf("narrative must list matched typologies")
	}
	if !strings.Contains(text, "2 transaction(s) totalling 44950.00 USD") {
		t.Errorf("narrative must summarize transactions, got:\n%s", text)
	}
	if !strings.Contains(text, "warrants filing") {
		t.Errorf("high-risk case must recommend filing")
	}
}

func TestTemplateGeneratorDeterministic(t *testing.T) {
	g := NewTemplateGenerator()
	c := scoredCase()

	first, err := g.Generate(context.Background(), c)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := g.Generate(context.Background(), c)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if first != second {
		t.Errorf("identical cases must produce identical narratives")
	}
}

func TestTemplateGeneratorLowScore(t *testing.T) {
	g := NewTemplateGenerator()
	c := scoredCase()
	c.Score = &domain.ScoreResult{Score: 20, RawScore: 20, RuleSetVersion: "v"}

	text, err := g.Generate(context.Background(), c)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(text, "No typology rules matched") {
		t.Errorf("expected no-match wording")
	}
	if !strings.Contains(text, "below the high-risk threshold") {
		t.Errorf("low-score case must not recommend filing outright")
	}
}

func TestTemplateGeneratorUnscoredCase(t *testing.T) {
	g := NewTemplateGenerator()
	c := scoredCase()
	c.Score = nil

	_, err := g.Generate(context.Background(), c)
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
}
