package pipeline

import (
	"time"

	"github.com/pendergraft/contrapull/internal/sources"
)

// Status is the terminal state of a single address in a run.
type Status string

// Address outcomes.
const (
	StatusFetched    Status = "fetched"
	StatusUnverified Status = "unverified"
	StatusFailed     Status = "failed"
)

// Outcome describes what happened to one address.
type Outcome struct {
	Address               string       `json:"address"`
	Status                Status       `json:"status"`
	ContractName          string       `json:"contract_name,omitempty"`
	BundleKind            sources.Kind `json:"bundle_kind,omitempty"`
	FileCount             int          `json:"file_count"`
	RawHash               string       `json:"raw_hash,omitempty"`
	Proxy                 bool         `json:"proxy"`
	ImplementationAddress string       `json:"implementation_address,omitempty"`
	ImplementationFiles   int          `json:"implementation_files,omitempty"`
	Error                 string       `json:"error,omitempty"`
	ProxyError            string       `json:"proxy_error,omitempty"`
}

// Summary is the report for a whole run.
type Summary struct {
	RunID       string    `json:"run_id"`
	ExplorerURL string    `json:"explorer_url,omitempty"`
	OutputDir   string    `json:"output_dir"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Total       int       `json:"total"`
	Fetched     int       `json:"fetched"`
	Unverified  int       `json:"unverified"`
	Proxied     int       `json:"proxied"`
	Failed      int       `json:"failed"`
	Outcomes    []Outcome `json:"contracts"`
}

func (s *Summary) add(out Outcome) {
	s.Outcomes = append(s.Outcomes, out)
	switch out.Status {
	case StatusFetched:
		s.Fetched++
	case StatusUnverified:
		s.Unverified++
	case StatusFailed:
		s.Failed++
	}
	if out.Proxy {
		s.Proxied++
	}
}
