package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/taskflow/internal/agent"
	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/template"
)

var errNoHistory = errors.New("run history is disabled (no database configured)")

// buildExecutors registers one executor per configured role. Command agents
// are wrapped with the attempt timeout, and with retry and circuit breaking
// when retries are configured.
func buildExecutors(cfg *config.TaskflowConfig, logger *slog.Logger, procs *agent.ProcessManager) (*agent.Registry, error) {
	roles := make([]string, 0, len(cfg.Agents))
	for role := range cfg.Agents {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	reg := agent.NewRegistry()
	breakers := agent.NewCircuitBreakerRegistry(logger)
	for _, role := range roles {
		ac := cfg.Agents[role]

		var exec agent.Executor
		switch ac.Kind {
		case config.KindCommand:
			c := agent.NewCommand(ac.Command, ac.Args, procs)
			c.Dir = ac.Dir
			exec = c
		default:
			exec = agent.Echo{ID: "echo:" + role}
		}

		timeout, err := ac.TimeoutDuration()
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", role, err)
		}
		exec = agent.WithTimeout(exec, timeout)

		if ac.Retries > 0 {
			retry := agent.DefaultRetryConfig()
			retry.MaxRetries = uint64(ac.Retries)
			exec = agent.Resilient(exec, breakers, retry)
		}

		reg.Register(scheduler.Role(role), exec)
	}
	return reg, nil
}

func buildEvaluator(cfg *config.TaskflowConfig, executors *agent.Registry) (agent.Evaluator, error) {
	switch cfg.Evaluator.Kind {
	case config.EvaluatorAcceptAll:
		return agent.AcceptAll, nil
	case config.EvaluatorReviewer:
		exec, ok := executors.Lookup(cfg.Evaluator.ReviewRole)
		if !ok {
			return nil, fmt.Errorf("evaluator: no agent for review role %q", cfg.Evaluator.ReviewRole)
		}
		return agent.NewReviewer(exec), nil
	default:
		return agent.NonEmptyOutput, nil
	}
}

// buildTemplates returns the built-in templates plus those in the template
// directory. A user template replaces a built-in of the same name.
func buildTemplates(cfg *config.TaskflowConfig, logger *slog.Logger) (*template.Registry, error) {
	reg := template.NewDefaultRegistry()

	user, err := template.LoadDir(cfg.TemplateDir, cfg.Workflow)
	if err != nil {
		return nil, err
	}
	for _, t := range user {
		if reg.Unregister(t.Name) {
			logger.Debug("template overrides built-in", "name", t.Name)
		}
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func openStore(ctx context.Context, cfg *config.TaskflowConfig) (persistence.Store, error) {
	if cfg.Database == "" {
		return nil, errNoHistory
	}
	return persistence.NewSQLiteStore(ctx, cfg.Database)
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
}
