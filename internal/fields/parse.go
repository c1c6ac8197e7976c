package fields

import (
	"encoding/json"
	"strings"
)

// parseResult decodes the model output and adds rule-based anomalies.
// Unparseable output yields a LOW confidence result that needs review.
func parseResult(docType, text string) *Result {
	data := map[string]any{}
	if err := json.Unmarshal([]byte(stripFences(text)), &data); err != nil {
		return &Result{
			DocumentType:  docType,
			Fields:        map[string]any{},
			Confidence:    ConfidenceLow,
			Anomalies:     []string{"Failed to parse extraction: " + err.Error()},
			NeedsReview:   true,
			ReviewReasons: []string{"Extraction output was not valid JSON"},
		}
	}

	confidence := parseConfidence(data["confidence"])
	anomalies := stringList(data["anomalies"])
	delete(data, "confidence")
	delete(data, "anomalies")

	result := &Result{DocumentType: docType, Fields: data, Confidence: confidence}

	switch {
	case docType == TypeW2:
		anomalies = append(anomalies, w2Anomalies(data)...)
		result.NeedsReview = confidence == ConfidenceLow || len(anomalies) > 0 || amount(data, "wages") == nil
	case strings.HasPrefix(docType, Type1099):
		anomalies = append(anomalies, form1099Anomalies(data)...)
		result.NeedsReview = confidence == ConfidenceLow || len(anomalies) > 0
	case docType == TypeK1:
		anomalies = append(anomalies, k1Anomalies(data)...)
		result.NeedsReview = confidence == ConfidenceLow || len(anomalies) > 0
	default:
		result.NeedsReview = true
		result.ReviewReasons = []string{"Generic extraction, manual review recommended"}
	}

	result.Anomalies = anomalies
	if result.Anomalies == nil {
		result.Anomalies = []string{}
	}
	if result.NeedsReview && result.ReviewReasons == nil {
		result.ReviewReasons = anomalies
	}
	if result.ReviewReasons == nil {
		result.ReviewReasons = []string{}
	}
	return result
}

func w2Anomalies(data map[string]any) []string {
	var out []string
	wages := amount(data, "wages")
	fedTax := amount(data, "federal_tax_withheld")

	if wages != nil && *wages < 0 {
		out = append(out, "Negative wages detected")
	}
	if fedTax != nil && *fedTax < 0 {
		out = append(out, "Negative federal tax withheld")
	}
	if wages != nil && fedTax != nil && *fedTax > *wages {
		out = append(out, "Federal tax withheld exceeds wages")
	}
	ssWages := amount(data, "social_security_wages")
	ssTax := amount(data, "social_security_tax")
	if ssWages != nil && ssTax != nil && *ssTax > *ssWages*0.062*1.1 {
		out = append(out, "Social Security tax appears higher than expected")
	}
	if wages == nil {
		out = append(out, "Missing wages (Box 1)")
	}
	if isNull(data["employer_ein"]) {
		out = append(out, "Missing employer EIN")
	}
	return out
}

func form1099Anomalies(data map[string]any) []string {
	var out []string
	amt := amount(data, "amount")
	fedTax := amount(data, "federal_tax_withheld")

	if amt != nil && *amt < 0 {
		out = append(out, "Negative amount detected")
	}
	if fedTax != nil {
		if *fedTax < 0 {
			out = append(out, "Negative federal tax withheld")
		}
		if amt != nil && *fedTax > *amt {
			out = append(out, "Federal tax withheld exceeds amount")
		}
	}
	if isNull(data["payer_name"]) {
		out = append(out, "Missing payer name")
	}
	return out
}

func k1Anomalies(data map[string]any) []string {
	var out []string
	if isNull(data["partnership_ein"]) {
		out = append(out, "Missing partnership EIN")
	}
	if isNull(data["partnership_name"]) {
		out = append(out, "Missing partnership name")
	}
	hasIncome := false
	for _, k := range []string{"ordinary_income", "rental_income", "interest_income", "dividend_income", "capital_gain"} {
		if amount(data, k) != nil {
			hasIncome = true
			break
		}
	}
	if other, ok := data["other_income"].(map[string]any); ok && len(other) > 0 {
		hasIncome = true
	}
	if !hasIncome {
		out = append(out, "No income fields extracted, document may be unreadable")
	}
	return out
}

// amount reads a numeric field; numeric strings such as "1,250.00" are accepted
func amount(data map[string]any, key string) *float64 {
	switch v := data[key].(type) {
	case float64:
		return &v
	case string:
		var f float64
		clean := strings.NewReplacer(",", "", "$", "").Replace(strings.TrimSpace(v))
		if err := json.Unmarshal([]byte(clean), &f); err == nil {
			return &f
		}
	}
	return nil
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func parseConfidence(v any) string {
	s, _ := v.(string)
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceLow:
		return ConfidenceLow
	default:
		return ConfidenceMedium
	}
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// stripFences removes a surrounding ```json block if the model added one
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}
