package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRulesFile reads rewrite rules from a YAML mapping of pattern to
// replacement. Rules are returned in the order they appear in the file:
//
//	"$upstream": "$custom_domain"
//	"//cdn.jsdelivr.net": ""
func LoadRulesFile(path string) ([]RewriteRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	rules, err := parseRules(data)
	if err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return rules, nil
}

// parseRules decodes through yaml.Node because map decoding loses key order.
func parseRules(data []byte) ([]RewriteRule, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return nil, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of pattern to replacement", root.Line)
	}

	rules := make([]RewriteRule, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if key.Kind != yaml.ScalarNode || val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: rule pattern and replacement must be strings", key.Line)
		}
		replacement := val.Value
		if val.Tag == "!!null" {
			replacement = ""
		}
		rules = append(rules, RewriteRule{Pattern: key.Value, Replacement: replacement})
	}
	return rules, nil
}
