package run

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mport/internal/bufpool"
	"mport/internal/conf"
	"mport/internal/flog"
	"mport/internal/pipeline"
)

var (
	confPath string
	duration time.Duration
)

func init() {
	Cmd.Flags().StringVarP(&confPath, "config", "c", "config.yaml", "Path to the configuration file.")
	Cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 means no time limit).")
}

var Cmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the pipeline described by the config file.",
	Long:  `The 'run' command reads the specified YAML configuration file, builds the component graph and moves buffers until every unlinked output reaches end of stream, the duration elapses, or the process is interrupted. Linked outputs do not end the run on end of stream.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := conf.LoadFromFile(confPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		if err := initialize(cfg); err != nil {
			log.Fatalf("Failed to initialize: %v", err)
		}

		pl, err := pipeline.Build(cfg)
		if err != nil {
			flog.Fatalf("Failed to build pipeline: %v", err)
		}
		if err := pl.Start(); err != nil {
			pl.Close()
			flog.Fatalf("Failed to start pipeline: %v", err)
		}

		stop := make(chan struct{})
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			close(stop)
		}()

		if err := pl.Run(duration, stop); err != nil {
			flog.Errorf("Pipeline finished with error: %v", err)
			os.Exit(1)
		}
	},
}

func initialize(cfg *conf.Conf) error {
	lvl, err := cfg.Log.LevelInt()
	if err != nil {
		return err
	}
	flog.SetLevel(lvl)
	if err := bufpool.Initialize(cfg.Slab.Frame); err != nil {
		return fmt.Errorf("failed to initialize buffer slabs: %w", err)
	}
	return nil
}
