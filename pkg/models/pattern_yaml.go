package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML accepts either a constraint map ({min: v} / {max: v} /
// {equals: v}) or a bare scalar, which normalizes to an equality check.
func (rc *RuleConstraint) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var v float64
		if err := node.Decode(&v); err != nil {
			return fmt.Errorf("behavioral rule scalar must be numeric: %w", err)
		}
		rc.Equals = &v
		return nil
	}

	var aux struct {
		Min    *float64 `yaml:"min"`
		Max    *float64 `yaml:"max"`
		Equals *float64 `yaml:"equals"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	rc.Min = aux.Min
	rc.Max = aux.Max
	rc.Equals = aux.Equals
	return nil
}
