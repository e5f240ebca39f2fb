package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/tinycl/internal/metrics"
	"github.com/fxnlabs/tinycl/internal/selftest"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func selftestCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "selftest",
		Usage: "Multiply random matrices on the configured device and verify the result",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "size",
				Value: selftest.DefaultOptions().M,
				Usage: "Edge length of the square matrices",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Value: selftest.DefaultOptions().Seed,
				Usage: "Seed for the random inputs",
			},
			&cli.StringFlag{
				Name:  "metrics-listen",
				Usage: "Serve Prometheus metrics on this address and keep serving after the test until interrupted",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Skip the banner",
			},
		},
		Action: func(c *cli.Context) error {
			log := e.log.Named("clinfo")
			w, err := e.wrapper()
			if err != nil {
				return err
			}
			out := c.App.Writer
			if !c.Bool("quiet") {
				fmt.Fprintln(out, figure.NewFigure("tinycl", "", true).String())
			}

			listen := c.String("metrics-listen")
			if listen == "" {
				listen = e.cfg.Metrics.ListenAddress
			}
			var srv *http.Server
			if listen != "" {
				if srv, err = serveMetrics(listen, log); err != nil {
					return err
				}
			}

			opts := selftest.DefaultOptions()
			opts.M, opts.N, opts.K = c.Int("size"), c.Int("size"), c.Int("size")
			opts.Seed = c.Int64("seed")

			res, runErr := selftest.New(w, e.cfg, e.log).Run(opts)
			if res != nil {
				fmt.Fprintf(out, "Device:     %s\n", res.Device)
				fmt.Fprintf(out, "Problem:    %dx%dx%d (%d work-items)\n", res.M, res.N, res.K, res.GlobalSize)
				fmt.Fprintf(out, "Kernel:     %d us\n", res.Micros)
				if res.Micros > 0 {
					fmt.Fprintf(out, "Throughput: %.2f GFLOP/s\n", float64(res.Flops)/float64(res.Micros)/1e3)
				}
				fmt.Fprintf(out, "Max error:  %.3g\n", res.MaxRelError)
			}
			if runErr == nil {
				fmt.Fprintln(out, "Self-test PASSED")
			}

			if srv != nil {
				if runErr == nil {
					waitForInterrupt(c.Context, log)
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Warn("metrics server shutdown", zap.Error(err))
				}
			}
			return runErr
		},
	}
}

// serveMetrics starts the /metrics endpoint in the background. The
// listener is bound before returning so address errors surface here.
func serveMetrics(addr string, log *zap.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("Serving metrics", zap.String("address", ln.Addr().String()))
	return srv, nil
}

func waitForInterrupt(ctx context.Context, log *zap.Logger) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Info("Self-test finished; serving metrics until interrupted")
	<-ctx.Done()
}
