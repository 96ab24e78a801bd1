package llm

// Price per million tokens in USD.
type pricing struct {
	Input  float64
	Output float64
}

var providerPricing = map[string]pricing{
	ProviderGemini: {Input: 0.075, Output: 0.3},
	ProviderOpenAI: {Input: 0.15, Output: 0.6},
}

// EstimateTokens approximates the token count of text at four characters per
// token, rounding up. Empty text estimates to zero.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// CalculateCost prices a call in USD. Unknown providers are priced at the
// OpenAI rate so costs are never silently undercounted.
func CalculateCost(provider string, tokensInput, tokensOutput int) float64 {
	p, ok := providerPricing[provider]
	if !ok {
		p = providerPricing[ProviderOpenAI]
	}
	const million = 1_000_000
	return float64(tokensInput)/million*p.Input + float64(tokensOutput)/million*p.Output
}
