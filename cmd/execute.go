package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/clusterctl/core/internal/fanout"
	"github.com/clusterctl/core/internal/metadata"
	"github.com/clusterctl/core/internal/mysqlconn"
	"github.com/clusterctl/core/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var executeCmd = &cobra.Command{
	Use:          "execute <topology-id> <statement>",
	Short:        "Run a single SQL statement across a topology's members (§4.2)",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		topologyID, stmt := args[0], args[1]

		if err := fanout.CheckSingleStatement(stmt); err != nil {
			return err
		}

		cfg := connectionConfigFromFlags()
		db, err := mysqlconn.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connecting to primary: %w", err)
		}
		defer db.Close()

		store := metadata.NewStore(db)
		ctx := context.Background()
		topo, err := loadTopology(ctx, store, topologyID, cfg)
		if err != nil {
			return err
		}
		defer closeTopology(topo)

		members := fanoutMembers(topo)
		multiPrimary := topo.Kind == metadata.KindReplicaSet

		include := fanout.ByKeyword("all")
		if in := viper.GetString("on"); in != "" {
			include = fanout.ByKeyword(in)
		}
		var exclude fanout.Selector
		if ex := viper.GetString("exclude"); ex != "" {
			exclude = fanout.ByKeyword(ex)
		}

		targets, err := fanout.Select(members, include, exclude, multiPrimary)
		if err != nil {
			return err
		}

		// execute is the only command that drives §4.2 fan-out in front
		// of a human at a terminal, so it always runs with the
		// interactive cancellation supervisor armed: Ctrl-C signals
		// CancelRequested and the supervisor issues KILL CONNECTION
		// against whatever target is still in flight (§4.2.4).
		cancelRequested := make(chan struct{})
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case <-sigCh:
				close(cancelRequested)
			case <-ctx.Done():
			}
		}()

		opts := fanout.Options{
			Timeout:         viper.GetDuration("timeout"),
			DryRun:          viper.GetBool("dry-run"),
			Interactive:     true,
			HostConcurrency: viper.GetInt("host_concurrency"),
			CancelRequested: cancelRequested,
			Kill:            killerFor(cfg),
		}

		executor := fanout.NewExecutor()
		results, err := executor.Run(ctx, targets, stmt, opts)
		if err != nil {
			return err
		}

		format := viper.GetString("format")
		renderer := output.NewRenderer(format, os.Stdout)
		renderer.RenderFanout(results)
		return nil
	},
}

func init() {
	executeCmd.Flags().String("on", "all", "target selector keyword: all, primary, secondaries, read-replicas")
	executeCmd.Flags().String("exclude", "", "selector keyword to exclude from the target set")
	executeCmd.Flags().Duration("timeout", 0, "per-target execution timeout, 0 for none")
	executeCmd.Flags().Bool("dry-run", false, "resolve targets and report them without issuing the statement")
	viper.BindPFlag("on", executeCmd.Flags().Lookup("on"))
	viper.BindPFlag("exclude", executeCmd.Flags().Lookup("exclude"))
	viper.BindPFlag("timeout", executeCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("dry-run", executeCmd.Flags().Lookup("dry-run"))

	rootCmd.AddCommand(executeCmd)
}
