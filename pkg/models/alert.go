// Package models defines the domain types shared across the engine:
// runbooks, alerts, execution results, approvals, simulations, and audit
// entries.
package models

import "time"

// AlertEvent is a normalized security alert submitted to the engine.
// The field layout mirrors what upstream detection pipelines emit; nested
// maps are kept as-is so template expressions can walk arbitrary paths.
type AlertEvent struct {
	ID              string         `json:"id" yaml:"id"`
	Source          string         `json:"source" yaml:"source"`
	Severity        string         `json:"severity" yaml:"severity"`
	Title           string         `json:"title,omitempty" yaml:"title,omitempty"`
	Description     string         `json:"description,omitempty" yaml:"description,omitempty"`
	MITRETechniques []string       `json:"mitre_techniques,omitempty" yaml:"mitre_techniques,omitempty"`
	Host            map[string]any `json:"host,omitempty" yaml:"host,omitempty"`
	User            map[string]any `json:"user,omitempty" yaml:"user,omitempty"`
	Network         map[string]any `json:"network,omitempty" yaml:"network,omitempty"`
	Process         map[string]any `json:"process,omitempty" yaml:"process,omitempty"`
	File            map[string]any `json:"file,omitempty" yaml:"file,omitempty"`
	Raw             map[string]any `json:"raw,omitempty" yaml:"raw,omitempty"`
	ReceivedAt      time.Time      `json:"received_at,omitempty" yaml:"received_at,omitempty"`
}

// Fields flattens the alert into a map for template resolution under the
// "alert." namespace. Nested maps are passed through untouched.
func (a *AlertEvent) Fields() map[string]any {
	if a == nil {
		return nil
	}
	fields := map[string]any{
		"id":          a.ID,
		"source":      a.Source,
		"severity":    a.Severity,
		"title":       a.Title,
		"description": a.Description,
	}
	if len(a.MITRETechniques) > 0 {
		techniques := make([]any, len(a.MITRETechniques))
		for i, t := range a.MITRETechniques {
			techniques[i] = t
		}
		fields["mitre_techniques"] = techniques
	}
	if a.Host != nil {
		fields["host"] = a.Host
	}
	if a.User != nil {
		fields["user"] = a.User
	}
	if a.Network != nil {
		fields["network"] = a.Network
	}
	if a.Process != nil {
		fields["process"] = a.Process
	}
	if a.File != nil {
		fields["file"] = a.File
	}
	if a.Raw != nil {
		fields["raw"] = a.Raw
	}
	return fields
}
