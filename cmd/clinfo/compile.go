package main

import (
	"errors"
	"fmt"

	"github.com/fxnlabs/tinycl/internal/cl"
	"github.com/fxnlabs/tinycl/internal/clwrap"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

// selectDevice returns the configured device.
func selectDevice(e *env, w *clwrap.Wrapper) (cl.DeviceID, error) {
	index := e.cfg.Device.Index
	ids, err := w.ListDeviceIDs(!e.cfg.Device.AllTypes, index+1)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= len(ids) {
		return 0, fmt.Errorf("no device at index %d (%d found)", index, len(ids))
	}
	return ids[index], nil
}

func compileCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "compile",
		Usage:     "Build an OpenCL source file on the configured device",
		ArgsUsage: "<file.cl>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "options",
				Usage: "Extra build options appended to every attempt",
			},
			&cli.StringSliceFlag{
				Name:  "kernel",
				Usage: "Kernel entry point that must exist in the program (repeatable)",
			},
		},
		Action: func(c *cli.Context) (err error) {
			if c.NArg() != 1 {
				return fmt.Errorf("compile takes exactly one source file, got %d", c.NArg())
			}
			path := c.Args().First()
			w, err := e.wrapper()
			if err != nil {
				return err
			}
			device, err := selectDevice(e, w)
			if err != nil {
				return err
			}

			scope := w.NewScope()
			defer func() {
				err = multierr.Append(err, scope.Close())
			}()
			ctx, err := scope.CreateContext(device)
			if err != nil {
				return err
			}
			program, err := scope.CompileProgram(device, ctx, path, c.String("options"))

			var buildErr *clwrap.BuildError
			if errors.As(err, &buildErr) {
				fmt.Fprintf(c.App.ErrWriter, "%s failed to build:\n%s\n", path, buildErr.Log)
			}
			if err != nil {
				return err
			}

			for _, name := range c.StringSlice("kernel") {
				if _, err := scope.CreateKernel(program, name); err != nil {
					return err
				}
			}
			fmt.Fprintf(c.App.Writer, "%s: OK\n", path)
			return nil
		},
	}
}
