package guard

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/bankabc/voicegate/patterns"
)

// DetectorFile is the top-level YAML structure for a leak-detector config.
type DetectorFile struct {
	Detectors []DetectorConfig `yaml:"detectors"`
}

// DetectorConfig is one disclosure category: a set of regex patterns plus
// the tool whose successful result authorizes the disclosure.
type DetectorConfig struct {
	Name         string          `yaml:"name"`
	Category     string          `yaml:"category"`
	RequiredTool string          `yaml:"required_tool"`
	Patterns     []PatternConfig `yaml:"patterns"`
}

// PatternConfig is a single regex pattern within a detector.
type PatternConfig struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// Detector is a compiled, ready-to-use leak detector.
type Detector struct {
	Name         string
	Category     string
	RequiredTool string
	Patterns     []*regexp.Regexp
}

// ParseDetectorFile parses detector YAML bytes.
func ParseDetectorFile(data []byte) (*DetectorFile, error) {
	var df DetectorFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("parsing detector YAML: %w", err)
	}
	return &df, nil
}

// LoadDetectorFile reads and parses a detector YAML file from disk. Returns
// nil (not an error) when the file does not exist, so a missing override
// file is a no-op.
func LoadDetectorFile(path string) (*DetectorFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading detector file %s: %w", path, err)
	}
	return ParseDetectorFile(data)
}

// DefaultDetectors returns the built-in detectors parsed from the embedded
// leak.yaml file.
func DefaultDetectors() ([]DetectorConfig, error) {
	df, err := ParseDetectorFile(patterns.LeakYAML())
	if err != nil {
		return nil, fmt.Errorf("parsing embedded leak patterns: %w", err)
	}
	return df.Detectors, nil
}

// CompileDetectors converts detector configs into the compiled form used at
// runtime.
func CompileDetectors(configs []DetectorConfig) ([]Detector, error) {
	out := make([]Detector, 0, len(configs))
	for _, dc := range configs {
		d := Detector{
			Name:         dc.Name,
			Category:     dc.Category,
			RequiredTool: dc.RequiredTool,
		}
		for _, pc := range dc.Patterns {
			re, err := regexp.Compile(pc.Regex)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %s/%s: %w", dc.Name, pc.Name, err)
			}
			d.Patterns = append(d.Patterns, re)
		}
		out = append(out, d)
	}
	return out, nil
}
