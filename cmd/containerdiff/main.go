// Command containerdiff computes a structured diff between two container
// images: their filesystem trees, installed RPM packages, image metadata,
// and build history.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/omron93/containerdiff/assets"
	"github.com/omron93/containerdiff/internal/config"
	"github.com/omron93/containerdiff/internal/filter"
	"github.com/omron93/containerdiff/internal/orchestrator"
	"github.com/omron93/containerdiff/internal/version"
)

// buildVersion is set by linker flags at release build time; an unset
// value falls back to a CalVer stamp computed at startup.
var buildVersion string

// CLI is containerdiff's entire flag set, implemented as a single kong
// root command since the tool has one verb and no subcommands.
type CLI struct {
	Image1 string `arg:"" name:"image1" help:"First image reference."`
	Image2 string `arg:"" name:"image2" help:"Second image reference."`

	Silent bool `short:"s" name:"silent" help:"Emit abbreviated modified entries and suppress non-error log output."`

	// Filter is nil when -f/--filter was never passed, points at "" when
	// passed bare (use the built-in default filter config), and points
	// at a path otherwise. Kong's optional:"" gives this flag an
	// optionally-valued, argparse nargs='?'-style behavior.
	Filter *string `short:"f" name:"filter" optional:"" help:"Apply the built-in (bare) or a custom (PATH) output filter."`

	Output string `short:"o" name:"output" help:"Write the result to PATH instead of stdout."`

	// Preserve behaves like Filter: nil means don't preserve, "" means
	// preserve under the default temp root, a path means preserve there.
	Preserve *string `short:"p" name:"preserve" optional:"" help:"Keep the extracted image trees (default location, or DIR)."`

	Host string `name:"host" default:"unix:///var/run/docker.sock" help:"Container engine endpoint."`

	Logging int  `short:"l" name:"logging" default:"30" help:"Log level threshold, Python logging-style (10=debug .. 50=critical)."`
	Debug   bool `short:"d" name:"debug" help:"Shortcut for --logging=10."`

	Version kong.VersionFlag `short:"v" name:"version" default:"${version}" help:"Print the version and exit."`
}

func main() {
	var cli CLI
	if defaults, err := config.Load(); err != nil {
		// A malformed ambient config file is reported, not fatal: CLI
		// flags and kong's own defaults still apply.
		logrus.WithError(err).Warn("ignoring malformed config file")
	} else {
		if defaults.Host != "" {
			cli.Host = defaults.Host
		}
		if defaults.Logging != 0 {
			cli.Logging = defaults.Logging
		}
	}

	ver := buildVersion
	if ver == "" {
		ver = version.Compute()
	}

	ctx := kong.Parse(&cli,
		kong.Name("containerdiff"),
		kong.Description("Diff two container images' filesystems, packages, metadata, and history."),
		kong.UsageOnError(),
		kong.Vars{"version": ver},
	)
	ctx.FatalIfErrorf(ctx.Run())
}

// Run implements kong's command interface directly on the root CLI
// struct, since containerdiff has a single verb and needs no cmd:""
// subcommand dispatch.
func (cli *CLI) Run() error {
	log := newLogger(cli)

	filterConfig, err := loadFilter(cli.Filter)
	if err != nil {
		return fmt.Errorf("loading filter config: %w", err)
	}

	preserveRoot := ""
	if cli.Preserve != nil {
		preserveRoot = *cli.Preserve
		if preserveRoot == "" {
			preserveRoot = os.TempDir()
		}
	}

	opts := orchestrator.Options{
		Image1Ref:    cli.Image1,
		Image2Ref:    cli.Image2,
		EngineHost:   cli.Host,
		Silent:       cli.Silent,
		Filter:       filterConfig,
		PreserveRoot: preserveRoot,
		Log:          log,
	}

	result, err := orchestrator.Run(context.Background(), opts)
	if err != nil {
		return err
	}

	return writeResult(cli.Output, result)
}

// newLogger builds the process-wide logger: logrus, leveled per
// -l/--logging (clamped to logrus's own level range), limited to errors
// when -s/--silent is set, with -d/--debug a shortcut for the most
// verbose level.
func newLogger(cli *CLI) logrus.FieldLogger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := cli.Logging
	if cli.Debug {
		level = 10
	}
	log.SetLevel(levelFromThreshold(level))

	if cli.Silent {
		log.SetLevel(logrus.ErrorLevel)
		log.SetOutput(os.Stderr)
	}
	return log
}

// levelFromThreshold maps a Python logging-module-style numeric threshold
// (10=DEBUG, 20=INFO, 30=WARNING, 40=ERROR, 50=CRITICAL) onto the nearest
// logrus level.
func levelFromThreshold(threshold int) logrus.Level {
	switch {
	case threshold <= 10:
		return logrus.DebugLevel
	case threshold <= 20:
		return logrus.InfoLevel
	case threshold <= 30:
		return logrus.WarnLevel
	case threshold <= 40:
		return logrus.ErrorLevel
	default:
		return logrus.FatalLevel
	}
}

// loadFilter resolves the -f/--filter flag into a filter.Config: nil
// means no filtering, a bare flag (pointing at "") loads the embedded
// built-in config, and any other value is read as a path. yaml.Unmarshal
// parses the built-in JSON config too, since YAML is a superset of JSON.
func loadFilter(flag *string) (filter.Config, error) {
	if flag == nil {
		return nil, nil
	}
	var data []byte
	if *flag == "" {
		data = assets.FilterJSON
	} else {
		b, err := os.ReadFile(*flag)
		if err != nil {
			return nil, fmt.Errorf("reading filter config %s: %w", *flag, err)
		}
		data = b
	}

	var cfg filter.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing filter config: %w", err)
	}
	return cfg, nil
}

// writeResult serializes result as indented JSON to path, or to stdout
// when path is empty.
func writeResult(path string, result orchestrator.Result) error {
	buf, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	buf = append(buf, '\n')

	if path == "" {
		_, err := os.Stdout.Write(buf)
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}
