// Package patterns provides the embedded default PII pattern registry.
// The YAML lists three ordered families (structural, names, contextual);
// the order inside each family is the detection priority.
package patterns

import _ "embed"

//go:embed ja_pii.yaml
var jaPIIYAML []byte

// JaPIIYAML returns the embedded Japanese case-record pattern definitions.
func JaPIIYAML() []byte { return jaPIIYAML }
