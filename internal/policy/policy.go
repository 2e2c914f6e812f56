// Package policy holds the detection rules pushed by HQ and matches
// clipboard content against them.
package policy

import (
	"fmt"
	"strings"
)

// Action is what the sensor does when a rule matches.
type Action string

const (
	ActionBlock   Action = "BLOCK"
	ActionAlert   Action = "ALERT"
	ActionLogOnly Action = "LOG_ONLY"
)

// Policy is a server-issued detection rule.
type Policy struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Pattern     string `json:"pattern"`
	Category    string `json:"category,omitempty"`
	Action      Action `json:"action,omitempty"`
	Description string `json:"description,omitempty"`
}

// EffectiveAction is the action to take on a match. Rules sent without an
// action block.
func (p Policy) EffectiveAction() Action {
	a := Action(strings.ToUpper(strings.TrimSpace(string(p.Action))))
	if a == "" {
		return ActionBlock
	}
	return a
}

// Blocks reports whether a match must suppress the clipboard content.
func (p Policy) Blocks() bool {
	return p.EffectiveAction() == ActionBlock
}

// Label names the rule in logs and alerts.
func (p Policy) Label() string {
	if p.Name != "" {
		return p.Name
	}
	if p.ID != "" {
		return p.ID
	}
	return p.Pattern
}

// PolicyError reports a rule that cannot be evaluated. The rule is skipped;
// the rest of the set keeps working.
type PolicyError struct {
	Index  int
	Policy string
	Err    error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy %d (%s): %v", e.Index, e.Policy, e.Err)
}

func (e *PolicyError) Unwrap() error { return e.Err }
