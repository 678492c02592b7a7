package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/socialpilot-ai/socialpilot/internal/agent/config"
	"github.com/socialpilot-ai/socialpilot/internal/agent/core"
	"github.com/socialpilot-ai/socialpilot/internal/agent/telemetry"
	"github.com/socialpilot-ai/socialpilot/internal/gateway"
	"github.com/socialpilot-ai/socialpilot/internal/memory"
	"github.com/socialpilot-ai/socialpilot/internal/orchestrator"
	"github.com/socialpilot-ai/socialpilot/internal/platform"
	srv "github.com/socialpilot-ai/socialpilot/internal/server"
)

// runtime bundles everything a subcommand needs.
type runtime struct {
	cfg   *config.Config
	store core.Store
	gw    *gateway.Gateway
	tele  *telemetry.Telemetry
	sim   *platform.DryRunClient
	orch  *orchestrator.Orchestrator
}

func buildAgents(cfg *config.Config, gw *gateway.Gateway, sim *platform.DryRunClient, store core.Store, tele *telemetry.Telemetry) map[string]*core.Agent {
	agents := map[string]*core.Agent{}
	for _, account := range cfg.Accounts {
		planner := core.NewPlanner(gw, cfg.Executors, nil)
		executors := core.NewExecutors(gw, sim, account)
		agents[account.AccountID] = core.NewAgent(account, cfg.Executors, planner, executors, store, sim, tele)
	}
	return agents
}

func buildRuntime() (*runtime, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	tele := telemetry.New(cfg.Telemetry)

	gw, err := gateway.New(cfg.LLM, tele, nil)
	if err != nil {
		return nil, fmt.Errorf("building model gateway: %w", err)
	}

	store, err := memory.NewStore(cfg.Storage, nil)
	if err != nil {
		return nil, fmt.Errorf("building store: %w", err)
	}

	sim := platform.NewDryRunClient(nil)

	agents := buildAgents(cfg, gw, sim, store, tele)
	if len(agents) == 0 {
		return nil, fmt.Errorf("no accounts configured")
	}

	orch := orchestrator.New(cfg.Scheduler, cfg.Accounts, agents, store, gw, tele, nil)
	return &runtime{cfg: cfg, store: store, gw: gw, tele: tele, sim: sim, orch: orch}, nil
}

// refreshAccounts re-reads config before a pass so account changes land
// without a restart. Rebuilt agents share the running store, gateway and
// platform client; persisted state carries across the swap.
func (rt *runtime) refreshAccounts() ([]config.AccountConfig, map[string]*core.Agent, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg.Accounts, buildAgents(cfg, rt.gw, rt.sim, rt.store, rt.tele), nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	root := &cobra.Command{
		Use:   "socialpilot",
		Short: "Autonomous social media account manager",
	}

	var cycleAccount string
	cycle := &cobra.Command{
		Use:   "cycle",
		Short: "Run one management cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			if cycleAccount != "" {
				return rt.orch.RunCycle(ctx, cycleAccount)
			}
			return rt.orch.RunAll(ctx)
		},
	}
	cycle.Flags().StringVar(&cycleAccount, "account", "", "run only this account")

	agent := &cobra.Command{
		Use:   "agent",
		Short: "Run continuous management cycles until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			log.Printf("starting continuous mode: providers=%v interval=%s accounts=%d",
				rt.gw.Providers(), rt.cfg.Scheduler.CycleInterval, len(rt.cfg.Accounts))
			rt.orch.OnReload(rt.refreshAccounts)
			err = rt.orch.RunContinuous(ctx)
			if ctx.Err() != nil {
				// Interrupted by signal, clean exit.
				return nil
			}
			return err
		},
	}

	var goalAccount string
	goal := &cobra.Command{
		Use:   "goal [description]",
		Short: "Add a goal to an account",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if goalAccount == "" {
				return fmt.Errorf("--account is required")
			}
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			ag, ok := rt.orch.Agent(goalAccount)
			if !ok {
				return fmt.Errorf("unknown account: %s", goalAccount)
			}
			ctx, cancel := signalContext()
			defer cancel()

			description := args[0]
			g, err := ag.AddGoal(ctx, description)
			if err != nil {
				return err
			}
			fmt.Printf("goal %s created\n", g.ID)
			fmt.Printf("  targets: %v\n", g.TargetMetrics)
			if g.Deadline != nil {
				fmt.Printf("  deadline: %s\n", g.Deadline.Format("2006-01-02"))
			}
			return nil
		},
	}
	goal.Flags().StringVar(&goalAccount, "account", "", "account to attach the goal to")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the operational HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			if serveAddr == "" {
				serveAddr = os.Getenv("SOCIALPILOT_HTTP_ADDR")
			}
			if serveAddr == "" {
				serveAddr = ":8080"
			}

			ctx, cancel := signalContext()
			defer cancel()
			rt.orch.OnReload(rt.refreshAccounts)
			go func() {
				if err := rt.orch.RunContinuous(ctx); err != nil && ctx.Err() == nil {
					log.Printf("scheduler stopped: %v", err)
				}
			}()
			return srv.New(rt.orch, rt.store, nil).Start(serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default :8080)")

	root.AddCommand(cycle, agent, goal, serve)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
