package catalog

import "strings"

// Metered feature identifiers.
const (
	FeatureBusinessPlan     = "BUSINESS_PLAN"
	FeaturePitchDeck        = "PITCH_DECK"
	FeatureMarketResearch   = "MARKET_RESEARCH"
	FeatureFinancialModel   = "FINANCIAL_MODEL"
	FeatureInvestorMatching = "INVESTOR_MATCHING"
	FeatureMVPGeneration    = "MVP_GENERATION"
	FeatureAIAnalysis       = "AI_ANALYSIS"
)

var featureCosts = map[string]int64{
	FeatureBusinessPlan:     200,
	FeaturePitchDeck:        160,
	FeatureMarketResearch:   60,
	FeatureFinancialModel:   100,
	FeatureInvestorMatching: 80,
	FeatureMVPGeneration:    150,
	FeatureAIAnalysis:       50,
}

// NormalizeFeature maps "business_plan" and "business-plan" to BUSINESS_PLAN.
func NormalizeFeature(feature string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(feature), "-", "_"))
}

// FeatureCost returns the default credit cost of a metered feature.
func FeatureCost(feature string) (int64, bool) {
	cost, ok := featureCosts[NormalizeFeature(feature)]
	return cost, ok
}

// FeatureCosts returns a copy of the feature cost table.
func FeatureCosts() map[string]int64 {
	out := make(map[string]int64, len(featureCosts))
	for feature, cost := range featureCosts {
		out[feature] = cost
	}
	return out
}
