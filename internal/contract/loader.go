package contract

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a contract from a YAML file and validates it.
func Load(path string) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading contract file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML contract and validates it. Unknown keys are rejected
// so that typos surface as errors instead of silently dropped settings.
func Parse(data []byte) (*Contract, error) {
	var c Contract
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, &ContractError{Errs: []ValidationError{{Field: "contract", Message: fmt.Sprintf("parsing YAML: %v", err)}}}
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
