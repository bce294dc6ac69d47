// Package rules provides an advisory static check of generated contract
// source text. Findings never block an order lifecycle transition.
package rules

import (
	"strings"

	"trustflow/internal/domain"
)

// Checker reports advisory findings for a piece of source text.
type Checker interface {
	Check(source string) []domain.RuleFinding
}

// keywordRule flags source containing any of its keywords.
type keywordRule struct {
	keywords []string
	severity string
	message  string
}

// StaticChecker scans source text against a fixed keyword rule set.
type StaticChecker struct {
	rules []keywordRule
}

// NewStaticChecker creates a checker with the default rule set.
func NewStaticChecker() *StaticChecker {
	return &StaticChecker{
		rules: []keywordRule{
			{
				keywords: []string{"tx.origin"},
				severity: "warning",
				message:  "tx.origin used for authorization; prefer msg.sender",
			},
			{
				keywords: []string{"selfdestruct", "suicide("},
				severity: "critical",
				message:  "contract can be destroyed via selfdestruct",
			},
			{
				keywords: []string{"delegatecall"},
				severity: "warning",
				message:  "delegatecall present; callee controls storage layout",
			},
			{
				keywords: []string{"block.timestamp", "now "},
				severity: "info",
				message:  "block timestamp used; miners can skew it slightly",
			},
		},
	}
}

// Compile-time interface check.
var _ Checker = (*StaticChecker)(nil)

// Check scans the source and returns findings. An empty source or a
// clean scan yields a single informational "no issues" finding so
// callers can distinguish "checked and clean" from "never checked".
func (c *StaticChecker) Check(source string) []domain.RuleFinding {
	lower := strings.ToLower(source)

	var findings []domain.RuleFinding
	for _, rule := range c.rules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				findings = append(findings, domain.RuleFinding{
					Severity: rule.severity,
					Message:  rule.message,
				})
				break
			}
		}
	}

	if len(findings) == 0 {
		findings = append(findings, domain.RuleFinding{
			Severity: "info",
			Message:  "no issues found",
		})
	}
	return findings
}
