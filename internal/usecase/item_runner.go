package usecase

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/user/patentscope-crawler/internal/entity"
)

// DocumentResult is the payload stored for a completed batch item.
type DocumentResult struct {
	entity.ExtractionRecord
	MatchedCountries []string `json:"matched_countries,omitempty"`
}

// DocumentItemRunner runs batch items as document extractions. The item name is the
// document key.
type DocumentItemRunner struct {
	service  *ExtractionService
	useCache bool
}

func NewDocumentItemRunner(service *ExtractionService, useCache bool) *DocumentItemRunner {
	return &DocumentItemRunner{service: service, useCache: useCache}
}

// RunItem returns an error for a Failure record so the item is marked failed.
func (r *DocumentItemRunner) RunItem(ctx context.Context, name string, params entity.BatchParams) (any, error) {
	rec, err := r.service.Extract(ctx, name, r.useCache)
	if err != nil {
		return nil, err
	}
	if !rec.Succeeded() {
		return nil, errors.New(rec.FailureReason)
	}
	return shapeResult(rec, params), nil
}

func shapeResult(rec entity.ExtractionRecord, params entity.BatchParams) DocumentResult {
	res := DocumentResult{ExtractionRecord: rec}
	if filter := ParseCountryFilter(params.CountryFilter); len(filter) > 0 {
		for _, code := range rec.Attributes.FamilyCountries {
			if slices.Contains(filter, code) && !slices.Contains(res.MatchedCountries, code) {
				res.MatchedCountries = append(res.MatchedCountries, code)
			}
		}
	}
	if params.Limit > 0 {
		attrs := &res.Attributes
		attrs.Inventors = limit(attrs.Inventors, params.Limit)
		attrs.Classifications = limit(attrs.Classifications, params.Limit)
		attrs.FamilyCountries = limit(attrs.FamilyCountries, params.Limit)
	}
	return res
}

// ParseCountryFilter splits a filter such as "BR_US_JP" or "br,us" into upper-case codes.
func ParseCountryFilter(filter string) []string {
	fields := strings.FieldsFunc(filter, func(r rune) bool {
		return r == '_' || r == ',' || r == ' '
	})
	codes := make([]string, 0, len(fields))
	for _, f := range fields {
		codes = append(codes, strings.ToUpper(f))
	}
	return codes
}

func limit(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return slices.Clone(values[:n])
}
