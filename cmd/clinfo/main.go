package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxnlabs/tinycl/internal/cl"
	"github.com/fxnlabs/tinycl/internal/cl/cltest"
	"github.com/fxnlabs/tinycl/internal/clwrap"
	"github.com/fxnlabs/tinycl/internal/config"
	"github.com/fxnlabs/tinycl/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// env is filled in by the app's Before hook and read by every command.
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	simulate bool
	// opts are applied after the config, e.g. to replace the failure handler.
	opts []clwrap.Option
	w    *clwrap.Wrapper
}

// wrapper opens the runtime on first use so that commands which never
// touch a device work without a driver.
func (e *env) wrapper() (*clwrap.Wrapper, error) {
	if e.w != nil {
		return e.w, nil
	}
	var rt cl.Runtime
	if e.simulate {
		rt = cltest.Simulated()
	} else {
		var err error
		if rt, err = cl.NewNative(); err != nil {
			if errors.Is(err, cl.ErrUnavailable) {
				return nil, fmt.Errorf("%w; use --simulate to run without a driver", err)
			}
			return nil, err
		}
	}
	opts := append([]clwrap.Option{clwrap.FromConfig(e.cfg), clwrap.WithLogger(e.log)}, e.opts...)
	e.w = clwrap.New(rt, opts...)
	return e.w, nil
}

func newApp(e *env) *cli.App {
	var configPath string

	return &cli.App{
		Name:  "clinfo",
		Usage: "Inspect OpenCL devices and check kernels with tinycl",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to a tinycl config file; defaults apply when empty",
				EnvVars:     []string{"TINYCL_CONFIG"},
				Destination: &configPath,
			},
			&cli.BoolFlag{
				Name:        "simulate",
				Usage:       "Use the in-process simulated runtime instead of the OpenCL driver",
				EnvVars:     []string{"TINYCL_SIMULATE"},
				Destination: &e.simulate,
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			e.cfg = config.Default()
			if configPath != "" {
				if e.cfg, err = config.LoadConfig(configPath); err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
			}
			if e.log == nil {
				if e.log, err = logger.New(e.cfg.Logger.Verbosity, e.cfg.Logger.Encoding); err != nil {
					return err
				}
			}
			return nil
		},
		Commands: []*cli.Command{
			devicesCommand(e),
			compileCommand(e),
			selftestCommand(e),
			configCommands(),
		},
	}
}

func main() {
	e := &env{}
	if err := newApp(e).Run(os.Args); err != nil {
		if e.log != nil {
			e.log.Named("clinfo").Fatal("failed to run app", zap.Error(err))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
