package config

import (
	"fmt"
	"log/slog"
	"time"
)

// Validate checks values that Load cannot catch while decoding.
func (c *TaskflowConfig) Validate() error {
	if err := c.Workflow.Validate(); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}

	switch c.Evaluator.Kind {
	case EvaluatorNonEmpty, EvaluatorAcceptAll:
	case EvaluatorReviewer:
		if c.Evaluator.ReviewRole == "" {
			return fmt.Errorf("evaluator: reviewer needs review_role")
		}
		if _, ok := c.Agents[string(c.Evaluator.ReviewRole)]; !ok {
			return fmt.Errorf("evaluator: no agent configured for review role %q", c.Evaluator.ReviewRole)
		}
	default:
		return fmt.Errorf("evaluator: unknown kind %q", c.Evaluator.Kind)
	}

	for role, agent := range c.Agents {
		if err := agent.validate(); err != nil {
			return fmt.Errorf("agent %q: %w", role, err)
		}
	}

	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (a AgentConfig) validate() error {
	switch a.Kind {
	case KindEcho:
	case KindCommand:
		if a.Command == "" {
			return fmt.Errorf("command kind needs a command")
		}
	default:
		return fmt.Errorf("unknown kind %q", a.Kind)
	}
	if a.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if _, err := a.TimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// TimeoutDuration parses Timeout. Zero means no limit.
func (a AgentConfig) TimeoutDuration() (time.Duration, error) {
	if a.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", a.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative")
	}
	return d, nil
}

// Level parses LogLevel. Empty means info.
func (c *TaskflowConfig) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
