// Package bundle assembles recorded steps into test bundles on disk and
// applies targeted edits to existing bundles without disturbing content it
// does not own. A bundle is the co-located artifact set for one test:
//
//	<root>/<slug>/<slug>.spec.ts
//	<root>/<slug>/<slug>.meta.json
//	<root>/<slug>/<slug>.meta.md
//	<root>/data/<slug>Data.json
package bundle

import (
	"bytes"
	"encoding/json"
)

// MetaParameter describes one data-driven input of a generated test.
// Source is the expression the spec uses to read it, e.g. "data.customerName".
type MetaParameter struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// MetaAssertion is a human-readable expectation attached to the test.
type MetaAssertion struct {
	Description string `json:"description"`
}

// MetaStep records the generation-time identity of one step. ID matches the
// step marker embedded in the spec source; Strategy and Locator preserve the
// selected locator so the inventory index never has to re-parse the spec.
type MetaStep struct {
	ID       string `json:"id"`
	Action   string `json:"action"`
	Hint     string `json:"hint,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Locator  string `json:"locator,omitempty"`
}

// Meta is the machine-readable bundle record consumed by the execution and
// diagnosis collaborators. GeneratedAt is the only field allowed to differ
// between two generations from identical inputs.
type Meta struct {
	TestName      string          `json:"testName"`
	Module        string          `json:"module,omitempty"`
	Parameters    []MetaParameter `json:"parameters"`
	Assertions    []MetaAssertion `json:"assertions"`
	Steps         []MetaStep      `json:"steps,omitempty"`
	DataFileRef   string          `json:"dataFileRef,omitempty"`
	GeneratedAt   string          `json:"generatedAt,omitempty"`
	LastRunAt     string          `json:"lastRunAt,omitempty"`
	LastStatus    string          `json:"lastStatus,omitempty"`
	ExternalLinks []string        `json:"externalLinks,omitempty"`
}

// Canonical renders the meta record as stable two-space-indented JSON with a
// trailing newline.
func (m Meta) Canonical() ([]byte, error) {
	if m.Parameters == nil {
		m.Parameters = []MetaParameter{}
	}
	if m.Assertions == nil {
		m.Assertions = []MetaAssertion{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	data = bytes.TrimRight(data, "\n")
	return append(data, '\n'), nil
}

// TestBundle is a generated bundle held in memory before or after storage.
// DataSeed is the first data-file row, written only when no data file exists
// yet for the slug.
type TestBundle struct {
	Slug         string
	SpecSource   string
	Meta         Meta
	MetaMarkdown string
	DataFilePath string
	DataSeed     map[string]string
}
