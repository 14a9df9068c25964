package request

// ExtractRequest asks for one document. UseCache defaults to true.
type ExtractRequest struct {
	WONumber string `json:"wo_number"`
	UseCache *bool  `json:"use_cache"`
}

// BatchExtractRequest asks for many documents in one call. UseCache and UsePool default to true.
type BatchExtractRequest struct {
	WONumbers []string `json:"wo_numbers"`
	UseCache  *bool    `json:"use_cache"`
	UsePool   *bool    `json:"use_pool"`
	PoolSize  int      `json:"pool_size"`
}

// CreateBatchRequest registers a background batch job.
type CreateBatchRequest struct {
	Items         []string `json:"items"`
	CountryFilter string   `json:"country_filter"`
	Limit         int      `json:"limit"`
}

// BoolOr returns *b, or def when b is nil.
func BoolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
