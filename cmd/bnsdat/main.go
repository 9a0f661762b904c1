package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/user/bnsdat/pkg/binxml"
	"github.com/user/bnsdat/pkg/dat"
	"github.com/user/bnsdat/pkg/wire"
)

const filesSuffix = ".files"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	app := &cli.App{
		Name:  "bnsdat",
		Usage: "Extract and build .dat archives and convert binary xml",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log debug output",
			},
		},
	}

	app.Commands = []*cli.Command{
		extractCommand("extract", wire.Width32),
		extractCommand("extract64", wire.Width64),
		compressCommand("compress", wire.Width32),
		compressCommand("compress64", wire.Width64),
		convertCommand(),
	}
	return app
}

func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func extractCommand(name string, width wire.Width) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     fmt.Sprintf("Extract a %s archive", width),
		ArgsUsage: "<archive> [out dir]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "xml",
				Aliases: []string{"x"},
				Usage:   "convert binary xml entries to text",
			},
			&cli.IntFlag{
				Name:  "workers",
				Value: 1,
				Usage: "entries extracted concurrently, 0 for one per CPU",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				_ = cli.ShowSubcommandHelp(c)
				return fmt.Errorf("%s: missing archive path", name)
			}
			in := c.Args().Get(0)
			out := c.Args().Get(1)
			if out == "" {
				out = defaultOutDir(in)
			}

			return dat.ExtractFile(c.Context, in, out,
				dat.WithWidth(width),
				dat.WithXMLConversion(c.Bool("xml")),
				dat.WithWorkers(c.Int("workers")),
				dat.WithLogger(newLogger(c)),
			)
		},
	}
}

func compressCommand(name string, width wire.Width) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     fmt.Sprintf("Build a %s archive from a directory", width),
		ArgsUsage: "<dir> [archive]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				_ = cli.ShowSubcommandHelp(c)
				return fmt.Errorf("%s: missing directory", name)
			}
			in := c.Args().Get(0)
			out := c.Args().Get(1)
			if out == "" {
				var err error
				if out, err = defaultArchivePath(in); err != nil {
					return err
				}
			}

			return dat.CompressFile(c.Context, in, out,
				dat.WithWidth(width),
				dat.WithLogger(newLogger(c)),
			)
		},
	}
}

// defaultOutDir names the extraction directory of archive.
func defaultOutDir(archive string) string {
	return archive + filesSuffix
}

// defaultArchivePath reverses defaultOutDir.
func defaultArchivePath(dir string) (string, error) {
	trimmed := strings.TrimRight(dir, `/\`)
	if !strings.HasSuffix(trimmed, filesSuffix) || trimmed == filesSuffix {
		return "", fmt.Errorf("%s does not end in %s, pass the archive path explicitly", dir, filesSuffix)
	}
	return strings.TrimSuffix(trimmed, filesSuffix), nil
}

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert an xml file between binary and text in place",
		ArgsUsage: "<file>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				_ = cli.ShowSubcommandHelp(c)
				return fmt.Errorf("convert: missing file")
			}
			converter := binxml.NewConverter(binxml.WithLogger(newLogger(c)))
			_, err := converter.AutoConvertFile(c.Args().First())
			return err
		},
	}
}
