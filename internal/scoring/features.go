package scoring

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// extractFeatures derives the CEL activation variables from an
// evidence bundle. Extraction is deterministic: identical input yields
// an identical feature map, and every derived list is sorted.
func extractFeatures(evidence []domain.TransactionEvidence, profile *domain.CustomerProfile, highRisk []string) (map[string]any, error) {
	if profile == nil {
		return nil, fmt.Errorf("%w: missing customer profile", domain.ErrMalformedEvidence)
	}
	if profile.CustomerID == "" || profile.AccountID == "" {
		return nil, fmt.Errorf("%w: profile requires customer and account identifiers", domain.ErrMalformedEvidence)
	}

	for i, tx := range evidence {
		if err := validateTransaction(tx); err != nil {
			return nil, fmt.Errorf("%w: transaction %d (%s): %v", domain.ErrMalformedEvidence, i, tx.ID, err)
		}
	}

	highRiskSet := make(map[string]struct{}, len(highRisk))
	for _, c := range highRisk {
		highRiskSet[strings.ToUpper(c)] = struct{}{}
	}

	var (
		totalAmount   float64
		maxAmount     float64
		minAmount     float64
		inboundCount  int64
		outboundCount int64
		inboundTotal  float64
		outboundTotal float64
		highRiskDest  int64
		cashCount     int64
		wireCount     int64
		earliest      time.Time
		latest        time.Time
	)

	channelSet := make(map[string]struct{})
	originCountries := make(map[string]struct{})
	destCountries := make(map[string]struct{})
	originAccounts := make(map[string]struct{})
	var narrations []string

	for i, tx := range evidence {
		totalAmount += tx.Amount
		if i == 0 || tx.Amount > maxAmount {
			maxAmount = tx.Amount
		}
		if i == 0 || tx.Amount < minAmount {
			minAmount = tx.Amount
		}
		if i == 0 || tx.Timestamp.Before(earliest) {
			earliest = tx.Timestamp
		}
		if i == 0 || tx.Timestamp.After(latest) {
			latest = tx.Timestamp
		}

		if tx.DestinationAccountID == profile.AccountID {
			inboundCount++
			inboundTotal += tx.Amount
		}
		if tx.OriginAccountID == profile.AccountID {
			outboundCount++
			outboundTotal += tx.Amount
			if _, ok := highRiskSet[strings.ToUpper(tx.DestinationCountry)]; ok {
				highRiskDest++
			}
		}

		switch tx.Channel {
		case domain.ChannelCash:
			cashCount++
		case domain.ChannelWire, domain.ChannelSWIFT:
			wireCount++
		}

		channelSet[tx.Channel] = struct{}{}
		if tx.OriginCountry != "" {
			originCountries[strings.ToUpper(tx.OriginCountry)] = struct{}{}
		}
		if tx.DestinationCountry != "" {
			destCountries[strings.ToUpper(tx.DestinationCountry)] = struct{}{}
		}
		originAccounts[tx.OriginAccountID] = struct{}{}

		if tx.Narration != "" {
			narrations = append(narrations, strings.ToLower(tx.Narration))
		}
	}

	var avgAmount float64
	var spanHours float64
	if len(evidence) > 0 {
		avgAmount = totalAmount / float64(len(evidence))
		spanHours = latest.Sub(earliest).Hours()
	}

	return map[string]any{
		"tx_count":                 int64(len(evidence)),
		"total_amount":             totalAmount,
		"max_amount":               maxAmount,
		"min_amount":               minAmount,
		"avg_amount":               avgAmount,
		"inbound_count":            inboundCount,
		"outbound_count":           outboundCount,
		"inbound_total":            inboundTotal,
		"outbound_total":           outboundTotal,
		"span_hours":               spanHours,
		"channels":                 sortedKeys(channelSet),
		"origin_countries":         sortedKeys(originCountries),
		"dest_countries":           sortedKeys(destCountries),
		"high_risk_dest_count":     highRiskDest,
		"cash_count":               cashCount,
		"wire_count":               wireCount,
		"distinct_origin_accounts": int64(len(originAccounts)),
		"narration":                strings.Join(narrations, " "),
		"risk_tier":                profile.RiskTier,
		"account_age_months":       int64(profile.AccountAgeMonths),
		"avg_monthly_volume":       profile.AvgMonthlyVolume,
		"occupation":               strings.ToLower(profile.Occupation),
		"business_type":            strings.ToLower(profile.BusinessType),
	}, nil
}

func validateTransaction(tx domain.TransactionEvidence) error {
	if tx.ID == "" {
		return fmt.Errorf("missing transaction id")
	}
	if tx.Amount <= 0 {
		return fmt.Errorf("amount must be positive, got %f", tx.Amount)
	}
	if len(tx.Currency) != 3 {
		return fmt.Errorf("currency must be an ISO 4217 code, got %q", tx.Currency)
	}
	if tx.OriginAccountID == "" || tx.DestinationAccountID == "" {
		return fmt.Errorf("missing origin or destination account")
	}
	if tx.Channel == "" {
		return fmt.Errorf("missing channel")
	}
	if tx.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// renderRationale substitutes {feature} tokens in a rule's rationale
// template with values from the feature map. Unknown tokens are left
// in place so a bad template is visible rather than silently blank.
func renderRationale(template string, features map[string]any) string {
	if !strings.Contains(template, "{") {
		return template
	}
	out := template
	for k, v := range features {
		token := "{" + k + "}"
		if !strings.Contains(out, token) {
			continue
		}
		out = strings.ReplaceAll(out, token, formatFeature(v))
	}
	return out
}

func formatFeature(v any) string {
	switch t := v.(type) {
	case float64:
		return fmt.Sprintf("%.2f", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	default:
		return fmt.Sprintf("%v", t)
	}
}
