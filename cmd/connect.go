package cmd

import (
	"fmt"
	"os"

	"github.com/clusterctl/core/internal/mysqlconn"
	"github.com/clusterctl/core/internal/output"
	"github.com/clusterctl/core/internal/topology"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var connectCmd = &cobra.Command{
	Use:          "connect",
	Short:        "Test connection and show topology info",
	SilenceUsage: true,
	Long:         `Connect to a MySQL instance and detect its topology (standalone, replica, Galera/PXC, Group Replication, Aurora) before it's joined to any managed Cluster, ReplicaSet, or ClusterSet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		connCfg := connectionConfigFromFlags()

		db, err := mysqlconn.Connect(connCfg)
		if err != nil {
			return fmt.Errorf("connection failed: %w", err)
		}
		defer db.Close()

		info, err := topology.Detect(db, viper.GetBool("verbose"))
		if err != nil {
			return fmt.Errorf("topology detection failed: %w", err)
		}

		format := viper.GetString("format")
		renderer := output.NewRenderer(format, os.Stdout)
		renderer.RenderProbe(connCfg, info)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
}
