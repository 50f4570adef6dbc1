package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/open-policy-agent/merge-into-file/internal/logging"
	"github.com/open-policy-agent/merge-into-file/internal/service"
)

func runCmd() *cobra.Command {
	var (
		params    commonParams
		outputDir string
		watch     bool
		addr      string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep merges up to date",
		Long: `Build all merges and rebuild each one at its rebuild interval until
interrupted. With --watch, changes to the sources trigger a rebuild of all
merges and changes to the configuration files are applied.

Examples:
  mergectl run --watch
  mergectl run --addr :8282`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := params.logger()

			if addr != "" {
				srv := metricsServer(addr)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Errorf("metrics server: %v", err)
					}
				}()
				defer shutdown(srv, log)
				log.Infof("Serving metrics on %s.", addr)
			}

			return service.New().
				WithConfigFiles(params.configFiles).
				WithBaseDir(params.baseDir).
				WithOutputDir(outputDir).
				WithLogger(log).
				WithWatch(watch).
				WithWorkers(workers).
				Run(ctx)
		},
	}

	addCommonFlags(cmd.Flags(), &params)
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default from configuration)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "rebuild on source and configuration changes")
	cmd.Flags().StringVar(&addr, "addr", "", "address to serve /metrics on, e.g. :8282")
	cmd.Flags().IntVar(&workers, "workers", 1, "number of merges rebuilt in parallel")

	return cmd
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

func shutdown(srv *http.Server, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("metrics server shutdown: %v", err)
	}
}
