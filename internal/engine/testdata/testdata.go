package testdata

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed corpus.json
var corpusJSON []byte

// CorpusEntry is a captured log line with its expected sanitized payload.
type CorpusEntry struct {
	Raw             string `json:"raw"`
	ExpectedPayload string `json:"expected_payload"`
	ECU             string `json:"ecu,omitempty"`
	App             string `json:"app,omitempty"`
	Ctx             string `json:"ctx,omitempty"`
	Description     string `json:"description"`
}

// LoadCorpus parses the embedded corpus.json and returns all entries.
func LoadCorpus() ([]CorpusEntry, error) {
	var entries []CorpusEntry
	if err := json.Unmarshal(corpusJSON, &entries); err != nil {
		return nil, fmt.Errorf("parse corpus.json: %w", err)
	}
	return entries, nil
}
