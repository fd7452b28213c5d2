package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

// newHarvestCmd runs one harvest in the foreground. The first interrupt stops
// the harvest cooperatively so the stored records are still deduped; a second
// one aborts.
func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest <subject-id>",
		Short: "Harvest the reviews of one product in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), appInstance)
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			stop := harvest.NewStopToken()
			signals := make(chan os.Signal, 2)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(signals)
			go watchSignals(ctx, signals, stop, cancel, appInstance.Logger())

			summary, err := appInstance.Harvest(ctx, args[0], stop)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			return nil
		},
	}
}

func watchSignals(ctx context.Context, signals <-chan os.Signal, stop *harvest.StopToken, cancel context.CancelFunc, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			if !stop.Stopped() {
				logger.Info("stopping harvest", zap.String("signal", sig.String()))
				stop.Stop()
				continue
			}
			logger.Warn("aborting harvest", zap.String("signal", sig.String()))
			cancel()
			return
		}
	}
}
