package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// ValidationError lists every constraint a Config violates.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid config: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid config: %d problems: %v", len(e.Problems), e.Problems)
}

// Validate checks c against the #Config definition.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.Encode(c.document())
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		var problems []string
		for _, e := range errors.Errors(err) {
			problems = append(problems, e.Error())
		}
		return &ValidationError{Problems: problems}
	}
	return nil
}

// document renders c in the shape of #Config. Optional keys are left out
// when empty; durations become nanoseconds.
func (c Config) document() map[string]any {
	doc := map[string]any{
		"dialect":           c.Dialect,
		"connection_string": c.ConnectionString,
		"command_timeout":   int64(c.CommandTimeout),
		"notifier": map[string]any{
			"kind":          c.Notifier.Kind,
			"poll_interval": int64(c.Notifier.PollInterval),
		},
		"log_level": c.LogLevel,
	}
	if c.Schema != "" {
		doc["schema"] = c.Schema
	}
	if c.MetricsAddr != "" {
		doc["metrics_addr"] = c.MetricsAddr
	}
	return doc
}
