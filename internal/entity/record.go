package entity

import "time"

// Outcome is the terminal state of an extraction attempt chain.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Attributes holds the fields scraped from a rendered patent document.
// Every field is optional; a partial scrape leaves the missing ones empty.
type Attributes struct {
	Title           string   `json:"title,omitempty"`
	Holder          string   `json:"holder,omitempty"`
	Abstract        string   `json:"abstract,omitempty"`
	FilingDate      string   `json:"filing_date,omitempty"`
	Inventors       []string `json:"inventors,omitempty"`
	Classifications []string `json:"classifications,omitempty"`
	FamilyCountries []string `json:"family_countries,omitempty"`
	DocumentLink    string   `json:"document_link,omitempty"`
}

// HasEssentialData reports whether at least one of title, abstract or holder was scraped.
func (a Attributes) HasEssentialData() bool {
	return a.Title != "" || a.Abstract != "" || a.Holder != ""
}

// ExtractionRecord is the result of one extraction attempt chain for a document key.
type ExtractionRecord struct {
	Key           string        `json:"key"`
	SourceLink    string        `json:"source_link"`
	Attributes    Attributes    `json:"attributes"`
	Outcome       Outcome       `json:"outcome"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Attempts      int           `json:"attempts"`
	Duration      time.Duration `json:"duration_ns"`
	WorkerID      int           `json:"worker_id,omitempty"`
	ProcessedAt   time.Time     `json:"processed_at"`
}

// Succeeded reports whether the record carries usable data.
func (r ExtractionRecord) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// DurationSeconds returns the elapsed time rounded to two decimals.
func (r ExtractionRecord) DurationSeconds() float64 {
	return roundTo(r.Duration.Seconds(), 2)
}
