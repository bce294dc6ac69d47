package contractgen

import (
	"context"
	"strings"
	"testing"
)

func TestTemplateGenerator_EmbedsPrompt(t *testing.T) {
	g := NewTemplateGenerator()

	source, err := g.Generate(context.Background(), "swap 1 WETH for USDC at 2500")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(source, "pragma solidity") {
		t.Error("generated source missing pragma header")
	}
	if !strings.Contains(source, "swap 1 WETH for USDC at 2500") {
		t.Error("generated source does not embed the prompt")
	}
	if !strings.Contains(source, "function cancel()") {
		t.Error("generated source missing cancel entry point")
	}
}

func TestTemplateGenerator_EmptyPrompt(t *testing.T) {
	g := NewTemplateGenerator()

	source, err := g.Generate(context.Background(), "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if source == "" {
		t.Error("empty prompt should still produce skeleton source")
	}
}
