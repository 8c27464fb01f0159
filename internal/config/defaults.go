package config

import "github.com/aristath/taskflow/internal/scheduler"

// DefaultConfig returns the default configuration: every built-in role is
// served by the echo executor and results are checked for non-empty output.
func DefaultConfig() *TaskflowConfig {
	agents := make(map[string]AgentConfig)
	for _, role := range []scheduler.Role{
		scheduler.RolePlanning,
		scheduler.RoleImplementation,
		scheduler.RoleVerification,
		scheduler.RoleSecurityReview,
		scheduler.RoleDocumentation,
	} {
		agents[string(role)] = AgentConfig{Kind: KindEcho}
	}

	return &TaskflowConfig{
		Workflow:    scheduler.DefaultConfig(),
		Evaluator:   EvaluatorConfig{Kind: EvaluatorNonEmpty},
		Agents:      agents,
		TemplateDir: ".taskflow/templates",
		LogLevel:    "info",
	}
}
