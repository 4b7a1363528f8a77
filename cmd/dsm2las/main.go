package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/twpayne/go-dsm2las"
)

const version = "0.1.0"

const usage = `dsm2las converts a digital surface model into a point cloud.

Usage:
    dsm2las [flags] <dsm_file> <las_file>
    dsm2las (-h | --help)
    dsm2las --version

Flags:
`

// loaders are the available raster loaders, by name.
var loaders = map[string]dsm2las.Loader{
	"geotiff": dsm2las.LoadGeoTIFF,
}

var errSyntax = errors.New("syntax: dsm2las [flags] <dsm_file> <las_file>")

type config struct {
	dsmFile         string
	lasFile         string
	scale           int
	format          string
	txt2las         string
	tempDir         string
	targetCRS       string
	sourceCRS       string
	skipNoData      bool
	loader          string
	metricsTextfile string
	verbose         bool
	help            bool
	version         bool
}

// parseArgs parses args. Flags may appear before, between, or after the
// positional arguments.
func parseArgs(args []string, output io.Writer) (*config, *flag.FlagSet, error) {
	c := &config{}
	flagSet := flag.NewFlagSet("dsm2las", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.IntVar(&c.scale, "scale", 1, "keep every scale-th row and column")
	flagSet.StringVar(&c.format, "format", "las", "output format (las, txt, or txt2las)")
	flagSet.StringVar(&c.txt2las, "txt2las", envOr("DSM2LAS_TXT2LAS", "txt2las"), "path to txt2las")
	flagSet.StringVar(&c.tempDir, "temp-dir", os.Getenv("DSM2LAS_TEMP_DIR"), "directory for intermediate text files")
	flagSet.StringVar(&c.targetCRS, "t_srs", "", "reproject points to this CRS")
	flagSet.StringVar(&c.sourceCRS, "s_srs", "", "override the raster's CRS")
	flagSet.BoolVar(&c.skipNoData, "skip-nodata", false, "drop nodata and NaN samples")
	flagSet.StringVar(&c.loader, "loader", "geotiff", "raster loader ("+strings.Join(loaderNames(), ", ")+")")
	flagSet.StringVar(&c.metricsTextfile, "metrics-textfile", "", "write metrics to this node exporter textfile")
	flagSet.BoolVar(&c.verbose, "verbose", false, "verbose logging")
	flagSet.BoolVar(&c.help, "h", false, "show help")
	flagSet.BoolVar(&c.help, "help", false, "show help")
	flagSet.BoolVar(&c.version, "version", false, "show version")

	var positionalArgs []string
	for {
		if err := flagSet.Parse(args); err != nil {
			return nil, flagSet, err
		}
		if flagSet.NArg() == 0 {
			break
		}
		positionalArgs = append(positionalArgs, flagSet.Arg(0))
		args = flagSet.Args()[1:]
	}

	if c.help || c.version {
		return c, flagSet, nil
	}
	if len(positionalArgs) != 2 {
		return nil, flagSet, errSyntax
	}
	c.dsmFile, c.lasFile = positionalArgs[0], positionalArgs[1]
	if c.scale < 1 {
		return nil, flagSet, fmt.Errorf("%d: %w", c.scale, dsm2las.ErrInvalidScale)
	}
	if _, ok := loaders[c.loader]; !ok {
		return nil, flagSet, fmt.Errorf("%s: unknown loader", c.loader)
	}
	switch c.format {
	case "las", "txt", "txt2las":
	default:
		return nil, flagSet, fmt.Errorf("%s: unknown format", c.format)
	}
	return c, flagSet, nil
}

func (c *config) sink(logger *zap.Logger) dsm2las.Sink {
	switch c.format {
	case "txt":
		return dsm2las.NewTextWriter(c.lasFile)
	case "txt2las":
		options := []dsm2las.Txt2LASOption{
			dsm2las.WithTxt2LASProgram(c.txt2las),
			dsm2las.WithTxt2LASLogger(logger),
		}
		if c.tempDir != "" {
			options = append(options, dsm2las.WithTxt2LASTempDir(c.tempDir))
		}
		return dsm2las.NewTxt2LAS(c.lasFile, options...)
	default:
		return dsm2las.NewLASWriter(c.lasFile)
	}
}

// hint adds a suggested flag to errors that c's flags can avoid.
func (c *config) hint(err error) error {
	if errors.Is(err, dsm2las.ErrCoordinateOverflow) && !c.skipNoData {
		return fmt.Errorf("%w (use --skip-nodata to drop nodata and NaN samples)", err)
	}
	return err
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run() error {
	c, flagSet, err := parseArgs(os.Args[1:], os.Stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return nil
	case err != nil:
		return err
	case c.help:
		fmt.Print(usage)
		flagSet.SetOutput(os.Stdout)
		flagSet.PrintDefaults()
		return nil
	case c.version:
		fmt.Println("dsm2las version " + version)
		return nil
	}

	logger, err := newLogger(c.verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	converter := dsm2las.NewConverter(
		dsm2las.WithScale(c.scale),
		dsm2las.WithLogger(logger),
		dsm2las.WithLoader(loaders[c.loader]),
		dsm2las.WithSink(c.sink(logger)),
		dsm2las.WithSkipNoData(c.skipNoData),
		dsm2las.WithSourceCRS(c.sourceCRS),
		dsm2las.WithTargetCRS(c.targetCRS),
	)
	if _, err := converter.Convert(ctx, c.dsmFile); err != nil {
		return c.hint(err)
	}

	if c.metricsTextfile != "" {
		if err := prometheus.WriteToTextfile(c.metricsTextfile, prometheus.DefaultGatherer); err != nil {
			return err
		}
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func envOr(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func loaderNames() []string {
	names := make([]string, 0, len(loaders))
	for name := range loaders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
