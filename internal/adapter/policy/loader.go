package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a YAML policy file and returns a validated Policy.
func LoadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var pol Policy
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}

	if err := validate(&pol); err != nil {
		return nil, fmt.Errorf("validating policy: %w", err)
	}

	pol.compile()
	return &pol, nil
}

func validate(pol *Policy) error {
	for i, e := range pol.Exemptions {
		if strings.TrimSpace(e.SQL) == "" {
			return fmt.Errorf("exemptions[%d].sql is empty", i)
		}
	}
	return nil
}
