// Command mkfs formats a new pintos-go/filesys disk image: an empty
// free-sector map and an empty root directory, ready for cmd/fsshell or
// a kernel to mount.
//
// Grounded on the teacher's cmd/mkfs/main.go (a flag-driven disk-image
// formatter), rebuilt on urfave/cli/v2 and this module's filesys facade
// instead of hand-writing minix on-disk structures byte by byte.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pintos-go/filesys/block"
	"github.com/pintos-go/filesys/internal/config"
	"github.com/pintos-go/filesys/filesys"
)

func main() {
	app := &cli.App{
		Name:  "mkfs",
		Usage: "format a pintos-go/filesys disk image",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
			},
			&cli.StringFlag{
				Name:    "device",
				Aliases: []string{"d"},
				Usage:   "disk image path (overrides config)",
			},
			&cli.Uint64Flag{
				Name:    "sectors",
				Aliases: []string{"n"},
				Usage:   "number of 512-byte sectors (overrides config)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mkfs:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	device := cfg.Device
	if d := c.String("device"); d != "" {
		device = d
	}
	sectors := cfg.Sectors
	if n := c.Uint64("sectors"); n != 0 {
		sectors = uint32(n)
	}
	if sectors == 0 {
		return fmt.Errorf("mkfs: sector count must be nonzero")
	}

	dev, err := block.CreateFileDevice(device, sectors)
	if err != nil {
		return fmt.Errorf("mkfs: creating device image: %w", err)
	}
	defer dev.Close()

	fs, err := filesys.Format(dev)
	if err != nil {
		return fmt.Errorf("mkfs: formatting: %w", err)
	}
	if err := fs.Done(); err != nil {
		return fmt.Errorf("mkfs: flushing: %w", err)
	}

	fmt.Printf("formatted %s: %d sectors (%d bytes)\n", device, sectors, int64(sectors)*block.SectorSize)
	return nil
}
