package gateway

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type registryFile struct {
	Entities []Entry `yaml:"entities"`
}

// LoadEntries reads a registry list from a YAML file:
//
//	entities:
//	  - name: Patient
//	    delete: soft
//	  - name: InvoiceLine
//	    table: invoice_line
func LoadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	return ParseEntries(data)
}

// ParseEntries decodes the YAML registry format.
func ParseEntries(data []byte) ([]Entry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry file: %w", err)
	}
	if len(f.Entities) == 0 {
		return nil, fmt.Errorf("registry file declares no entities")
	}
	return f.Entities, nil
}
