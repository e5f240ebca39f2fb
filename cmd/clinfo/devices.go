package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func devicesCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List OpenCL devices in enumeration order",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Include every device type, not only GPUs",
			},
		},
		Action: func(c *cli.Context) error {
			w, err := e.wrapper()
			if err != nil {
				return err
			}
			onlyGPU := !(c.Bool("all") || e.cfg.Device.AllTypes)
			count, err := w.CountDevices()
			if !onlyGPU {
				count, err = w.CountAllDevices()
			}
			if err != nil {
				return err
			}
			ids, err := w.ListDeviceIDs(onlyGPU, count)
			if err != nil {
				return err
			}
			e.log.Named("clinfo").Debug("enumerated devices", zap.Int("count", len(ids)), zap.Bool("only_gpu", onlyGPU))

			out := c.App.Writer
			if len(ids) == 0 {
				fmt.Fprintln(out, "No OpenCL devices found.")
				return nil
			}
			for i, id := range ids {
				desc, err := w.DescribeDevice(id)
				if err != nil {
					return err
				}
				marker := " "
				if i == e.cfg.Device.Index {
					marker = "*"
				}
				fmt.Fprintf(out, "%s[%d] %s\n", marker, i, desc)
			}
			return nil
		},
	}
}
