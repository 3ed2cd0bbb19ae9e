package metering

import "strings"

// PriceTable resolves the point cost of a job type, optionally refined by
// provider ("translate_chapter:deepseek"). Resolved once at admission.
type PriceTable struct {
	prices map[string]int64
}

func NewPriceTable(prices map[string]int64) *PriceTable {
	p := make(map[string]int64, len(prices))
	for k, v := range prices {
		p[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &PriceTable{prices: p}
}

// PriceKey is the lookup key for a job type and provider.
func PriceKey(jobType, provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" || provider == "default" {
		return jobType
	}
	return jobType + ":" + provider
}

// Cost returns the price for jobType/provider, falling back to the job type
// price when no provider override exists.
func (t *PriceTable) Cost(jobType, provider string) (int64, bool) {
	if c, ok := t.prices[PriceKey(jobType, provider)]; ok {
		return c, true
	}
	c, ok := t.prices[jobType]
	return c, ok
}
