package config

import (
	"github.com/aristath/taskflow/internal/scheduler"
)

// Agent kinds.
const (
	KindEcho    = "echo"    // Describes the task instead of doing it
	KindCommand = "command" // Runs an external program per attempt
)

// Evaluator kinds.
const (
	EvaluatorNonEmpty  = "non-empty"
	EvaluatorAcceptAll = "accept-all"
	EvaluatorReviewer  = "reviewer" // Asks the executor of ReviewRole to review
)

// AgentConfig configures the executor bound to one role.
type AgentConfig struct {
	Kind    string   `json:"kind"`              // "echo" or "command"
	Command string   `json:"command,omitempty"` // Program to run (command kind)
	Args    []string `json:"args,omitempty"`    // Arguments passed to Command
	Dir     string   `json:"dir,omitempty"`     // Working directory (command kind)
	Timeout string   `json:"timeout,omitempty"` // Per-attempt limit, e.g. "5m"; empty means none
	Retries int      `json:"retries,omitempty"` // Retries of transient failures; 0 disables retry and circuit breaking
}

// EvaluatorConfig selects the acceptance policy.
type EvaluatorConfig struct {
	Kind       string         `json:"kind"`
	ReviewRole scheduler.Role `json:"review_role,omitempty"` // Reviewer kind only
}

// TaskflowConfig is the top-level configuration.
type TaskflowConfig struct {
	Workflow    scheduler.Config       `json:"workflow"`
	Evaluator   EvaluatorConfig        `json:"evaluator"`
	Agents      map[string]AgentConfig `json:"agents"` // Keyed by role
	TemplateDir string                 `json:"template_dir,omitempty"`
	LogLevel    string                 `json:"log_level,omitempty"`
	Database    string                 `json:"database,omitempty"`     // Empty disables run history
	MetricsAddr string                 `json:"metrics_addr,omitempty"` // Empty disables the /metrics listener
}
