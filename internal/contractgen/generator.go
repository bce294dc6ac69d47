// Package contractgen turns natural-language prompts into contract
// source text. The output is advisory: it is attached to orders for
// audit but never compiled or executed by this system.
package contractgen

import (
	"context"
	"fmt"
	"time"
)

// Generator produces contract source text from a description. The
// default is a deterministic template; a hosted language model client
// can be substituted behind this interface.
type Generator interface {
	Generate(ctx context.Context, description string) (string, error)
}

// TemplateGenerator emits a placeholder limit order contract skeleton
// that embeds the prompt for traceability.
type TemplateGenerator struct{}

// NewTemplateGenerator creates the default generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Compile-time interface check.
var _ Generator = (*TemplateGenerator)(nil)

// Generate returns the skeleton source. It never fails.
func (g *TemplateGenerator) Generate(_ context.Context, description string) (string, error) {
	return fmt.Sprintf(`pragma solidity ^0.8.0;

contract LimitOrderContract_%d {
    // Prompt-based generation: %s
    function execute() public { /* ... */ }
    function cancel() public { /* ... */ }
}
`, time.Now().Unix(), description), nil
}
