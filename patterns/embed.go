// Package patterns provides the embedded default leak-detector definitions
// used by the output guardrail. Detectors are grouped by disclosure category;
// each category names the tool whose successful result authorizes it.
package patterns

import _ "embed"

//go:embed leak.yaml
var leakYAML []byte

// LeakYAML returns the embedded default leak-detector definitions.
func LeakYAML() []byte { return leakYAML }
