package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/hook"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/report"
	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/template"
)

// workflowOptions select a template and instantiate it.
type workflowOptions struct {
	template      string
	file          string
	params        []string
	mode          string
	maxIterations int
	maxParallel   int
	noEval        bool
	noCorrection  bool
}

func (o *workflowOptions) register(flags *pflag.FlagSet) {
	flags.StringVarP(&o.template, "template", "t", "", "Template name")
	flags.StringVarP(&o.file, "file", "f", "", "Template YAML file")
	flags.StringArrayVarP(&o.params, "param", "p", nil, "Template parameter as key=value (repeatable)")
	flags.StringVar(&o.mode, "mode", "", "Execution mode: sequential or parallel")
	flags.IntVar(&o.maxIterations, "max-iterations", 0, "Attempts allowed per task")
	flags.IntVar(&o.maxParallel, "max-parallel", 0, "Concurrent tasks in parallel mode")
	flags.BoolVar(&o.noEval, "no-eval", false, "Accept every successful result without evaluation")
	flags.BoolVar(&o.noCorrection, "no-correction", false, "Fail a task on its first rejection")
}

// overrides applies the flags that were set on top of cfg.
func (o *workflowOptions) overrides(cfg scheduler.Config, flags *pflag.FlagSet) scheduler.Config {
	if flags.Changed("mode") {
		cfg.Mode = scheduler.Mode(o.mode)
	}
	if flags.Changed("max-iterations") {
		cfg.MaxIterations = o.maxIterations
	}
	if flags.Changed("max-parallel") {
		cfg.MaxParallel = o.maxParallel
	}
	if o.noEval {
		cfg.EnableEvaluation = false
	}
	if o.noCorrection {
		cfg.EnableCorrectionLoop = false
	}
	return cfg
}

// parseParams turns key=value pairs into a map. Later pairs win.
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

// workflow resolves the template, applies overrides and instantiates it.
func (a *app) workflow(o *workflowOptions, flags *pflag.FlagSet) (*scheduler.Workflow, error) {
	var t *template.Template
	switch {
	case o.file != "" && o.template != "":
		return nil, errors.New("use either --template or --file, not both")
	case o.file != "":
		loaded, err := template.LoadFile(o.file, a.cfg.Workflow)
		if err != nil {
			return nil, err
		}
		t = loaded
	case o.template != "":
		reg, err := buildTemplates(a.cfg, a.logger)
		if err != nil {
			return nil, err
		}
		found, err := reg.Get(o.template)
		if err != nil {
			return nil, err
		}
		t = found
	default:
		return nil, errors.New("a workflow needs --template or --file")
	}

	params, err := parseParams(o.params)
	if err != nil {
		return nil, err
	}

	tc := *t
	tc.Config = o.overrides(t.Config, flags)
	return tc.Instantiate(params)
}

func runCmd(a *app) *cobra.Command {
	var (
		opts    workflowOptions
		watch   bool
		save    bool
		outputs bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workflow",
		Long: `Instantiate a template and run it to completion.

Examples:
  taskflow run -t quick-implementation -p project_name=api -p feature_description="add login"
  taskflow run -f review.yaml --mode parallel --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := a.workflow(&opts, cmd.Flags())
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), cmd, wf, runFlags{watch: watch, save: save, outputs: outputs})
		},
	}

	opts.register(cmd.Flags())
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Print progress as tasks run")
	cmd.Flags().BoolVar(&save, "save", true, "Record the run in history")
	cmd.Flags().BoolVar(&outputs, "outputs", false, "Print the accepted output of every task")
	return cmd
}

type runFlags struct {
	watch   bool
	save    bool
	outputs bool
}

func (a *app) run(ctx context.Context, cmd *cobra.Command, wf *scheduler.Workflow, f runFlags) error {
	executors, err := buildExecutors(a.cfg, a.logger, a.procs)
	if err != nil {
		return err
	}
	evaluator, err := buildEvaluator(a.cfg, executors)
	if err != nil {
		return err
	}

	hooks := hook.NewDispatcher(a.logger)
	for _, point := range hook.Points {
		hooks.Register(point, "log", hook.LoggingObserver(a.logger))
	}

	printer := report.New(cmd.OutOrStdout())

	stopWatch := func() {}
	if f.watch {
		bus := events.NewEventBus()
		events.Bridge(bus, hooks)
		progress := bus.SubscribeAll(256)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for e := range progress {
				printer.Event(e)
			}
		}()
		stopWatch = func() {
			bus.Close()
			<-done
			if n := bus.Dropped(); n > 0 {
				a.logger.Warn("progress events dropped", "count", n)
			}
		}
	}

	promReg := prometheus.NewRegistry()
	metrics := orchestrator.MustNewMetrics(promReg)
	if a.cfg.MetricsAddr != "" {
		stop := serveMetrics(a.cfg.MetricsAddr, promReg, a.logger)
		defer stop()
	}

	engine, err := orchestrator.New(orchestrator.Dependencies{
		Executors: executors,
		Evaluator: evaluator,
		Hooks:     hooks,
		Logger:    a.logger,
		Metrics:   metrics,
		Defaults:  a.cfg.Workflow,
	})
	if err != nil {
		return err
	}

	res, runErr := engine.Run(ctx, wf)
	stopWatch()
	var cfgErr *scheduler.ConfigurationError
	if errors.As(runErr, &cfgErr) {
		return runErr
	}

	if f.save {
		a.saveRun(context.WithoutCancel(ctx), wf)
	}

	printer.Result(wf.Name(), res)
	if f.outputs {
		printer.Outputs(res)
	}

	if runErr != nil {
		return runErr
	}
	if !res.Success {
		return fmt.Errorf("workflow %s %s: %d of %d tasks failed", wf.Name(), res.Status, res.TasksFailed, len(res.Outcomes))
	}
	return nil
}

// saveRun records the run. History problems never fail the run itself.
func (a *app) saveRun(ctx context.Context, wf *scheduler.Workflow) {
	store, err := openStore(ctx, a.cfg)
	if errors.Is(err, errNoHistory) {
		return
	}
	if err != nil {
		a.logger.Warn("run history unavailable", "error", err)
		return
	}
	defer store.Close()

	if err := store.SaveWorkflow(ctx, wf.Snapshot()); err != nil {
		a.logger.Warn("saving run", "workflow_id", wf.ID(), "error", err)
		return
	}
	a.logger.Debug("run saved", "workflow_id", wf.ID())
}

func validateCmd(a *app) *cobra.Command {
	var opts workflowOptions

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a workflow without running it",
		Long: `Instantiate a template, check its dependency graph and make sure every
role it uses has an agent. Prints the execution order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := a.workflow(&opts, cmd.Flags())
			if err != nil {
				return err
			}
			order, err := wf.Validate()
			if err != nil {
				return err
			}

			executors, err := buildExecutors(a.cfg, a.logger, a.procs)
			if err != nil {
				return err
			}
			if missing := executors.Missing(wf.Roles()); len(missing) > 0 {
				names := make([]string, len(missing))
				for i, role := range missing {
					names[i] = string(role)
				}
				return &scheduler.ConfigurationError{Err: scheduler.ErrNoExecutor, Detail: strings.Join(names, ", ")}
			}

			out := cmd.OutOrStdout()
			cfg := wf.Config()
			fmt.Fprintf(out, "%s: %d tasks, %s mode, max %d iterations\n", wf.Name(), wf.Len(), cfg.Mode, cfg.MaxIterations)
			for i, id := range order {
				task, _ := wf.Task(id)
				fmt.Fprintf(out, "%2d. %s [%s]\n", i+1, task.Name, task.Role)
			}
			return nil
		},
	}

	opts.register(cmd.Flags())
	return cmd
}
