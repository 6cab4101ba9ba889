package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	core "github.com/3cpo-dev/lightfarm/internal/core"
	"github.com/3cpo-dev/lightfarm/internal/farm"
	gssh "github.com/3cpo-dev/lightfarm/internal/ssh"
	"github.com/3cpo-dev/lightfarm/internal/telemetry"
	"github.com/3cpo-dev/lightfarm/pkg/api"
)

// Load the config file and apply command-line overrides
func resolveConfig(cmd *cobra.Command) (core.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := core.LoadConfig(cfgPath)
	if err != nil {
		return cfg, err
	}
	if f := cmd.Flags().Lookup("tool"); f != nil && f.Changed {
		cfg.Tool = f.Value.String()
	}
	if f := cmd.Flags().Lookup("blob-id"); f != nil && f.Changed {
		cfg.BlobID = f.Value.String()
	}
	if f := cmd.Flags().Lookup("shards"); f != nil && f.Changed {
		n, _ := cmd.Flags().GetInt("shards")
		if n < 1 {
			return cfg, fmt.Errorf("--shards must be at least 1, got %d", n)
		}
		cfg.Shards = n
	}
	return cfg, nil
}

// Run a bake
func newBakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bake <scenario> <target-asset> <quality> [group]",
		Short: "Bake lightmaps for a scenario",
		Long: "Bake runs data sync, farm begin, every farm stage split into shards, farm finish and the " +
			"texture post-process. Quality is one of: " + qualityList() + ".",
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Elapsed times are measured from process start.
			reporter := farm.NewReporter(cmd.OutOrStdout(), time.Now())
			if _, err := farm.ParseQuality(args[2]); err != nil {
				return err
			}
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			group := ""
			if len(args) == 4 {
				group = args[3]
			}
			pcfg, err := farm.NewPipelineConfig(args[0], args[1], args[2], group, cfg.BlobID)
			if err != nil {
				return err
			}
			if cfg.Tool == "" {
				return farm.ErrToolMustBeSet
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			noHistory, _ := cmd.Flags().GetBool("no-history")

			opts := []farm.Option{
				farm.WithShardCount(core.ShardCount(cfg.Shards)),
				farm.WithReporter(reporter),
				farm.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()),
			}
			if !dryRun && !noHistory {
				store, err := core.NewStore(cfg.StorePath)
				if err != nil {
					log.Warn().Err(err).Str("path", cfg.StorePath).Msg("Run history disabled")
				} else {
					defer store.Close()
					opts = append(opts, farm.WithRecorder(store))
				}
			}
			if cfg.Telemetry.Enabled && !dryRun {
				collector := telemetry.NewCollector(true, cfg.MetricsInterval())
				defer collector.Shutdown()
				opts = append(opts, farm.WithMetrics(collector))
			}

			p, err := farm.New(cfg.BlobRoot, farm.NewExecLauncher(cfg.Tool), opts...)
			if err != nil {
				return err
			}
			if dryRun {
				return printCommands(cmd.OutOrStdout(), cfg.Tool, p.Commands(pcfg))
			}
			_, err = p.Run(cmd.Context(), pcfg)
			return err
		},
	}
	cmd.Flags().String("tool", "", "worker tool executable (overrides config)")
	cmd.Flags().String("blob-id", "", "working blob identifier (overrides config)")
	cmd.Flags().Int("shards", 0, "shards per stage (default: number of logical CPUs)")
	cmd.Flags().Bool("dry-run", false, "print every worker call without running anything")
	cmd.Flags().Bool("no-history", false, "do not record the run in the history store")
	return cmd
}

func qualityList() string {
	names := make([]string, len(farm.Qualities))
	for i, q := range farm.Qualities {
		names[i] = string(q)
	}
	return strings.Join(names, ", ")
}

func printCommands(w io.Writer, tool string, cmds []farm.Command) error {
	for _, c := range cmds {
		if _, err := fmt.Fprintf(w, "%s %s\n", tool, c); err != nil {
			return err
		}
	}
	return nil
}

// Render the phase chain as Graphviz DOT
func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [scenario target-asset quality [group]]",
		Short: "Print the bake plan as a Graphviz digraph",
		Long:  "Plan prints the phase chain of a bake. With --run the phases are coloured by the recorded outcome of that run.",
		Args: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetString("run")
			if runID != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.RangeArgs(3, 4)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			runID, _ := cmd.Flags().GetString("run")
			if runID == "" {
				group := ""
				if len(args) == 4 {
					group = args[3]
				}
				pcfg, err := farm.NewPipelineConfig(args[0], args[1], args[2], group, cfg.BlobID)
				if err != nil {
					return err
				}
				p, err := farm.New(cfg.BlobRoot, farm.NewExecLauncher(cfg.Tool), farm.WithShardCount(core.ShardCount(cfg.Shards)))
				if err != nil {
					return err
				}
				return p.WriteDOT(cmd.OutOrStdout(), pcfg, nil)
			}

			store, err := core.NewStore(cfg.StorePath)
			if err != nil {
				return err
			}
			defer store.Close()
			run, err := store.GetRun(cmd.Context(), runID)
			if err != nil {
				return err
			}
			pcfg, err := farm.NewPipelineConfig(run.Scenario, run.Target, run.Quality, run.Group, filepath.Base(run.BlobDir))
			if err != nil {
				return err
			}
			status, err := store.PhaseStatuses(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			p, err := farm.New(filepath.Dir(run.BlobDir), farm.NewExecLauncher(cfg.Tool), farm.WithShardCount(run.ShardCount))
			if err != nil {
				return err
			}
			return p.WriteDOT(cmd.OutOrStdout(), pcfg, status)
		},
	}
	cmd.Flags().String("run", "", "colour the plan with the outcome of this run (id or prefix)")
	cmd.Flags().String("blob-id", "", "working blob identifier (overrides config)")
	cmd.Flags().Int("shards", 0, "shards per stage (default: number of logical CPUs)")
	return cmd
}

// Inspect the run history
func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent bakes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s/%s\t%s\t%s\n",
					shortID(r.ID), r.StartedAt.Local().Format(time.DateTime), r.Status,
					r.Scenario, r.Target, r.Quality, runDuration(r))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of runs to list")
	cmd.AddCommand(newRunsShowCmd())
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the phases and shard results of a bake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			phases, err := store.Phases(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			shards, err := store.Shards(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run:      %s\n", run.ID)
			fmt.Fprintf(out, "status:   %s\n", run.Status)
			fmt.Fprintf(out, "scenario: %s\n", run.Scenario)
			fmt.Fprintf(out, "target:   %s\n", run.Target)
			fmt.Fprintf(out, "quality:  %s\n", run.Quality)
			fmt.Fprintf(out, "group:    %s\n", run.Group)
			fmt.Fprintf(out, "blob dir: %s\n", run.BlobDir)
			fmt.Fprintf(out, "shards:   %d\n", run.ShardCount)
			fmt.Fprintf(out, "elapsed:  %s\n", runDuration(run))
			if run.Message != "" {
				fmt.Fprintf(out, "error:    %s\n", run.Message)
			}
			fmt.Fprintln(out, "\nphases:")
			for _, p := range phases {
				fmt.Fprintf(out, "  %s\t%s\t%s\texit=%d\t%s\n", p.Name, p.Kind, p.Status, p.ExitCode, p.Duration)
			}
			var failed []api.ShardRecord
			for _, s := range shards {
				if s.ExitCode != 0 {
					failed = append(failed, s)
				}
			}
			if len(failed) > 0 {
				fmt.Fprintln(out, "\nfailed shards:")
				for _, s := range failed {
					fmt.Fprintf(out, "  %s[%d]\texit=%d\t%s\n", s.Stage, s.Shard, s.ExitCode, s.LogPath)
				}
			}
			return nil
		},
	}
}

func openStore(cmd *cobra.Command) (*core.Store, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.StorePath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no run history at %s", cfg.StorePath)
	}
	return core.NewStore(cfg.StorePath)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runDuration(r api.RunRecord) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}

// Ship shard logs
func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Work with shard logs",
	}
	push := &cobra.Command{
		Use:   "push",
		Short: "Upload the shard logs of a blob to the diagnostics host over SFTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			blobDir := filepath.Join(cfg.BlobRoot, cfg.BlobID)
			blobID := cfg.BlobID
			if runID, _ := cmd.Flags().GetString("run"); runID != "" {
				store, err := core.NewStore(cfg.StorePath)
				if err != nil {
					return err
				}
				run, err := store.GetRun(cmd.Context(), runID)
				_ = store.Close()
				if err != nil {
					return err
				}
				blobDir = run.BlobDir
				blobID = filepath.Base(run.BlobDir)
			}
			shipper := core.NewLogShipper(cfg.Ship)
			report, err := shipper.Ship(cmd.Context(), farm.LogDir(blobDir), blobID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "shipped %d logs to %s:%s\n", len(report.Files), cfg.Ship.Host, report.RemoteDir)
			return nil
		},
	}
	push.Flags().String("run", "", "ship the logs of this run (id or prefix)")
	push.Flags().String("blob-id", "", "working blob identifier (overrides config)")
	cmd.AddCommand(push)
	return cmd
}

// Initialize configuration and environment
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "lightfarm initialization command. Run this the first time.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				cfgPath = core.DefaultConfigPath()
			}
			if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
				if err := core.SaveConfig(cfgPath, core.DefaultConfig()); err != nil {
					return err
				}
				fmt.Fprintf(out, "wrote default config to %s\n", cfgPath)
			} else {
				fmt.Fprintf(out, "config already present at %s\n", cfgPath)
			}
			cfg, err := core.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if err := gssh.EnsureKnownHostsFile(cfg.Ship.KnownHosts); err != nil {
				return err
			}
			if hostKey, _ := cmd.Flags().GetString("host-key"); hostKey != "" {
				if cfg.Ship.Host == "" {
					return fmt.Errorf("--host-key needs ship.host in %s", cfgPath)
				}
				if err := gssh.AppendKnownHost(cfg.Ship.KnownHosts, cfg.Ship.Host, cfg.Ship.Port, hostKey); err != nil {
					return err
				}
				fmt.Fprintf(out, "pinned host key for %s\n", cfg.Ship.Host)
			}
			if genKey, _ := cmd.Flags().GetBool("ssh-key"); genKey {
				if _, err := os.Stat(cfg.Ship.KeyPath); err == nil {
					fmt.Fprintf(out, "ssh key already present at %s\n", cfg.Ship.KeyPath)
					return nil
				}
				host, _ := os.Hostname()
				pub, err := gssh.GenerateEd25519Keypair(cfg.Ship.KeyPath, "lightfarm@"+host)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "generated %s\n%s", cfg.Ship.KeyPath, pub)
			}
			return nil
		},
	}
	cmd.Flags().Bool("ssh-key", false, "generate an ed25519 key for log shipping")
	cmd.Flags().String("host-key", "", "pin this public key (authorized_keys format) for ship.host")
	return cmd
}
