package normalizer

import "PMCopilot/internal/domain"

const defaultRecommendation = "Perform routine inspection and maintenance."

var recommendations = map[string]string{
	domain.ClassificationNoFailure:   "Normal operation. Keep monitoring machine performance.",
	domain.ClassificationMaintenance: "Machine is under maintenance. Wait until the maintenance process is complete.",
	"Power Failure":                  "Power failure risk detected. Check the power supply system and cabling. Prepare backup power.",
	"Tool Wear Failure":              "High tool wear. Replace the tool immediately to prevent damage.",
	"Overstrain Failure":             "Excessive workload. Reduce the load or increase maintenance frequency.",
	"Heat Dissipation Failure":       "Cooling problem. Check the cooling system and ventilation. Clean the filters.",
	"Random Failures":                "Random failure indications. Perform a full inspection and diagnostics.",
}

// Recommend returns the action text for a failure type with an urgency suffix by risk score.
func Recommend(failureType string, riskScore int) string {
	if failureType == domain.ClassificationMaintenance {
		return recommendations[domain.ClassificationMaintenance]
	}
	text, ok := recommendations[failureType]
	if !ok {
		text = defaultRecommendation
	}
	switch {
	case riskScore >= 85:
		text += " URGENT: Schedule an inspection within the next 24 hours."
	case riskScore >= 60:
		text += " Priority: Plan maintenance within 48-72 hours."
	}
	return text
}

// recommendationKey prefers a real forecast, then a real current failure.
func recommendationKey(current, forecast string) string {
	switch {
	case current == domain.ClassificationMaintenance:
		return domain.ClassificationMaintenance
	case domain.IsActiveFailure(forecast):
		return forecast
	case domain.IsActiveFailure(current):
		return current
	default:
		return domain.ClassificationNoFailure
	}
}
