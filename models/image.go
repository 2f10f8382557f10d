// Package models defines data structures shared by the scrape and download paths.
package models

import "time"

// Candidate is an absolute image URL discovered on a scraped page.
type Candidate struct {
	URL          string    `csv:"url" json:"url"`
	PageURL      string    `csv:"page_url" json:"page_url"`
	DiscoveredAt time.Time `csv:"discovered_at" json:"discovered_at"`
}

// SeedError records why a seed URL contributed no candidates.
type SeedError struct {
	URL string
	Err error
}

// ScrapeResult holds the overall result of one scrape session.
type ScrapeResult struct {
	SessionID    string
	Seeds        []string
	Candidates   []*Candidate
	FailedSeeds  []SeedError
	StartTime    time.Time
	EndTime      time.Time
	BytesFetched int64
	ErrorsByType map[string]int
}

// URLs returns the candidate URLs in discovery order.
func (r *ScrapeResult) URLs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		out = append(out, c.URL)
	}
	return out
}

// DownloadTask pairs one image URL with the directory it is saved into.
type DownloadTask struct {
	URL            string
	DestinationDir string
}

// OutcomeStatus is the terminal state of a download task.
type OutcomeStatus string

const (
	OutcomeSaved  OutcomeStatus = "saved"
	OutcomeFailed OutcomeStatus = "failed"
)

// DownloadOutcome is reported once per task.
type DownloadOutcome struct {
	Task     DownloadTask
	Status   OutcomeStatus
	Path     string
	Bytes    int64
	Err      error
	Duration time.Duration
}

// DownloadReport aggregates the outcomes of one download batch.
type DownloadReport struct {
	BatchID   string
	Outcomes  []DownloadOutcome
	Saved     int
	Failed    int
	StartTime time.Time
	EndTime   time.Time
}
