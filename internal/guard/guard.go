// Package guard implements the post-generation output guardrail.
//
// The reasoning service can hallucinate account data or echo something it
// was never authorized to fetch. Before an answer is spoken back, the
// guardrail scans it for sensitive-data shapes and requires each detected
// disclosure to be backed by a successful gated tool call in the current
// turn's trace. Detection is regex-based and intentionally fail-closed:
// blocking a legitimate answer is safer than leaking one.
package guard

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	vgotel "github.com/bankabc/voicegate/internal/otel"
)

var tracer = vgotel.Tracer("github.com/bankabc/voicegate/internal/guard")

// Verification prompts substituted for a blocked answer.
const (
	PromptAskCustomerID = "For your security I can't share account details yet. Could you tell me your Customer ID?"
	PromptAskPIN        = "For your security I need to verify your identity first. Could you tell me your PIN?"
)

// failureMarkers classify unstructured tool result text as failed.
var failureMarkers = []string{
	"identity not verified",
	"identity_not_verified",
	"not found",
	"not_found",
	"tool_disabled",
}

// TraceEntry is the slice of a turn's tool trace the guardrail needs: the
// tool's name and its raw recorded result.
type TraceEntry struct {
	Name   string
	Result string
}

// Result reports what the guardrail did to an answer.
type Result struct {
	Tripped    bool
	Categories []string // disclosure categories lacking corroboration
}

// Guardrail scans final answers for uncorroborated sensitive disclosures.
type Guardrail struct {
	detectors []Detector
}

// Option configures a Guardrail.
type Option func(*guardrailConfig)

type guardrailConfig struct {
	detectorFile string
}

// WithDetectorFile layers detectors from a YAML file over the embedded
// defaults. Detectors with a matching name replace the default.
func WithDetectorFile(path string) Option {
	return func(c *guardrailConfig) { c.detectorFile = path }
}

// New creates a guardrail from the embedded defaults plus any options.
func New(opts ...Option) (*Guardrail, error) {
	var cfg guardrailConfig
	for _, o := range opts {
		o(&cfg)
	}

	configs, err := DefaultDetectors()
	if err != nil {
		return nil, err
	}

	if cfg.detectorFile != "" {
		df, err := LoadDetectorFile(cfg.detectorFile)
		if err != nil {
			return nil, err
		}
		if df != nil {
			configs = mergeDetectors(configs, df.Detectors)
		}
	}

	detectors, err := CompileDetectors(configs)
	if err != nil {
		return nil, err
	}
	return &Guardrail{detectors: detectors}, nil
}

// MustNew is New for callers where the embedded defaults cannot fail.
func MustNew(opts ...Option) *Guardrail {
	g, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return g
}

// mergeDetectors overrides defaults by name and appends new detectors.
func mergeDetectors(base, overrides []DetectorConfig) []DetectorConfig {
	index := make(map[string]int, len(base))
	merged := append([]DetectorConfig(nil), base...)
	for i, d := range merged {
		index[d.Name] = i
	}
	for _, o := range overrides {
		if i, ok := index[o.Name]; ok {
			merged[i] = o
		} else {
			index[o.Name] = len(merged)
			merged = append(merged, o)
		}
	}
	return merged
}

// Scrub validates the answer against the turn's tool trace. When every
// detected disclosure has a successful corroborating tool call, the answer
// passes through unchanged. Otherwise the entire answer is replaced with a
// verification prompt: ask for the Customer ID when the session is still
// anonymous, otherwise ask for the PIN.
func (g *Guardrail) Scrub(ctx context.Context, answer string, trace []TraceEntry, customerID string) (string, Result) {
	_, span := tracer.Start(ctx, "guard.scrub")
	defer span.End()

	var res Result
	for _, d := range g.detectors {
		if !d.matches(answer) {
			continue
		}
		if hasSuccessfulCall(trace, d.RequiredTool) {
			continue
		}
		res.Tripped = true
		res.Categories = append(res.Categories, d.Category)
	}

	if !res.Tripped {
		return answer, res
	}

	log.Warn().
		Strs("categories", res.Categories).
		Str("customer_id", customerID).
		Msg("guardrail_blocked_answer")

	if customerID == "" || customerID == "guest" {
		return PromptAskCustomerID, res
	}
	return PromptAskPIN, res
}

func (d *Detector) matches(text string) bool {
	for _, re := range d.Patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// hasSuccessfulCall reports whether the trace holds a successful result for
// the named tool.
func hasSuccessfulCall(trace []TraceEntry, tool string) bool {
	for _, entry := range trace {
		if entry.Name == tool && ResultSuccessful(entry.Result) {
			return true
		}
	}
	return false
}

// ResultSuccessful classifies a recorded tool result. A JSON object is
// successful when it has no "error" key; a JSON array when no element has
// an "error" key. Unstructured text is failed when it starts with "error"
// or mentions a known failure marker; empty results are failed.
func ResultSuccessful(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		_, hasErr := obj["error"]
		return !hasErr
	}

	var list []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
		for _, item := range list {
			if _, hasErr := item["error"]; hasErr {
				return false
			}
		}
		return true
	}

	lower := strings.ToLower(trimmed)
	if lower == "false" {
		return false
	}
	if strings.HasPrefix(lower, "error") {
		return false
	}
	for _, marker := range failureMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}
