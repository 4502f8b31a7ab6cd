// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package upgrade

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danjacques/gosendstream/sendstream"
	"github.com/danjacques/gosendstream/support/logging"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// App is the btrfs-send-stream-upgrade command-line application.
type App struct {
	Fs     afero.Fs
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// CPUs overrides the CPU count used to size the pipeline.
	CPUs int
}

// NewApp returns an App bound to the operating system.
func NewApp() *App {
	return &App{
		Fs:     afero.NewOsFs(),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// runEnv is the per-invocation state shared by every command.
type runEnv struct {
	cfg    *Config
	logger *zap.SugaredLogger
}

func (a *App) setup(cmd *cobra.Command, configPath string) (*runEnv, error) {
	cfg, err := LoadConfig(a.Fs, configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger := logging.New(a.Stderr, cfg.Verbose, cfg.Quiet).With("run", ksuid.New().String())
	return &runEnv{cfg: cfg, logger: logger}, nil
}

// Command returns the root command.
func (a *App) Command(c context.Context) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "btrfs-send-stream-upgrade",
		Short: "Upgrade a btrfs send stream to protocol version 2",
		Long: `Reads a btrfs send stream, upgrades every command to send stream
protocol version 2, coalesces contiguous writes, and compresses write
payloads with zstd.`,
		Args:              cobra.NoArgs,
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.setup(cmd, configPath)
			if err != nil {
				return err
			}
			defer func() { _ = env.logger.Sync() }()
			return a.runUpgrade(c, env)
		},
	}
	root.SetIn(a.Stdin)
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file.")
	addConfigFlags(root.PersistentFlags())

	root.AddCommand(a.dumpCommand(c, &configPath), a.configCommand(&configPath))
	return root
}

// addConfigFlags adds a flag for every Config key. Defaults shown in the help
// text come from DefaultConfig; only flags that are explicitly set override
// other configuration sources.
func addConfigFlags(fs *pflag.FlagSet) {
	def := DefaultConfig()

	fs.BoolP("avoid-crcing-input", "a", def.AvoidCRCingInput, "Trust input commands and skip their CRC32C checks.")
	fs.IntP("bytes-to-log", "b", def.BytesToLog, "Leading bytes of each verified command to dump at debug level.")
	fs.IntP("compression-level", "c", def.CompressionLevel,
		fmt.Sprintf("zstd level applied to write payloads, up to %d. 0 disables compression.", sendstream.MaxCompressionLevel))
	fs.StringP("input", "i", def.Input, "Path of the send stream to upgrade. Reads stdin if empty.")
	fs.IntP("maximum-batched-extent-size", "m", def.MaximumBatchedExtentSize,
		"Maximum bytes of contiguous writes to coalesce into one. 0 disables coalescing.")
	fs.StringP("output", "o", def.Output, "Path of the upgraded send stream, which must not exist. Writes stdout if empty.")
	fs.BoolP("pad-with-dummy-commands", "p", def.PadWithDummyCommands,
		"Insert filler commands so that aligned write payloads land on aligned output offsets.")
	fs.BoolP("quiet", "q", def.Quiet, "Only log errors and do not print the summary.")
	fs.IntP("read-buffer-size", "r", def.ReadBufferSize, "Size of the input read buffer.")
	fs.BoolP("serde-checks", "s", def.SerdeChecks, "Re-parse every produced element and compare it to the original.")
	fs.IntP("thread-count", "t", def.ThreadCount, "Threads to use. 1 upgrades serially; 0 uses half of the CPUs.")
	fs.CountP("verbose", "v", "Increase logging verbosity. May be repeated.")
	fs.IntP("write-buffer-size", "w", def.WriteBufferSize, "Size of the output write buffer.")

	fs.Int("max-cached-buffers", def.MaxCachedBuffers, "Maximum read buffers held by the pipeline.")
	fs.Int("queue-capacity", def.QueueCapacity, "Maximum entries in each pipeline queue (0 sizes it from the thread count).")
	fs.Int("max-command-size", def.MaxCommandSize, "Maximum size of an input command in bytes.")
	fs.Duration("min-poll-interval", def.MinPollInterval, "Initial interval between pipeline worker polls.")
	fs.Duration("max-poll-interval", def.MaxPollInterval, "Longest interval between pipeline worker polls.")

	dv := sendstream.VersionFlag(def.DestinationVersion)
	fs.Var(&dv, "destination-version", "Send stream version to write. One of: "+sendstream.VersionFlagValues()+".")
	cc := CompressionFlag(def.ContainerCompression)
	fs.Var(&cc, "container-compression", "Compression wrapped around the input and output files. One of: "+CompressionFlagValues()+".")
	fs.String("metrics-addr", def.MetricsAddr, "If set, serve Prometheus metrics at this address during the run.")
}

func (a *App) runUpgrade(c context.Context, env *runEnv) (err error) {
	cfg := env.cfg

	if cfg.MetricsAddr != "" {
		ms, err := startMetricsServer(cfg.MetricsAddr, env.logger)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := ms.Close(); closeErr != nil {
				env.logger.Warnf("Shutting down the metrics server: %s", closeErr)
			}
		}()
	}

	in, err := openInput(a.Fs, cfg.Input, cfg.ContainerCompression, a.Stdin)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := in.Close(); err == nil {
			err = closeErr
		}
	}()

	out, err := openOutput(a.Fs, cfg.Output, cfg.ContainerCompression, a.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = errors.Wrap(closeErr, "closing output")
		}
	}()

	u := Upgrader{
		Config: cfg,
		Logger: env.logger,
		CPUs:   a.CPUs,
	}
	res, err := u.Upgrade(c, in, out)
	if res != nil && !cfg.Quiet {
		if sumErr := WriteSummary(a.Stderr, &res.Stats, res.Elapsed); sumErr != nil {
			env.logger.Warnf("Writing the summary: %s", sumErr)
		}
	}
	if err != nil {
		return errors.Wrap(err, "upgrading send stream")
	}
	return nil
}

func (a *App) dumpCommand(c context.Context, configPath *string) *cobra.Command {
	var decompress bool

	cmd := &cobra.Command{
		Use:   "dump [file]",
		Short: "Print the decoded commands of a send stream",
		Long: `Prints every command of a send stream of any supported version, one
per line. The stream is read from file if given, otherwise from the
configured input.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			env, err := a.setup(cmd, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = env.logger.Sync() }()

			path := env.cfg.Input
			if len(args) > 0 {
				path = args[0]
			}
			in, err := openInput(a.Fs, path, env.cfg.ContainerCompression, a.Stdin)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := in.Close(); err == nil {
					err = closeErr
				}
			}()
			return dump(c, a.Stdout, env, in, decompress)
		},
	}
	cmd.Flags().BoolVar(&decompress, "decompress", false, "Show encoded writes as the writes they decompress to.")
	return cmd
}

// dump writes a line for every Operation in r.
func dump(c context.Context, w io.Writer, env *runEnv, r io.Reader, decompress bool) error {
	s := sendstream.NewScanner(sendstream.NewContext(env.cfg.Options(), env.logger, r, nil))
	s.DecompressEncodedWrites = decompress

	first := true
	for s.Scan() {
		if err := c.Err(); err != nil {
			return err
		}
		if first {
			if _, err := fmt.Fprintf(w, "# stream version %s\n", s.Version()); err != nil {
				return err
			}
			first = false
		}
		op := s.Operation()
		if _, err := fmt.Fprintf(w, "%-16s %+v\n", op.Type(), op); err != nil {
			return err
		}
	}
	return errors.Wrap(s.Err(), "scanning send stream")
}

func (a *App) configCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(a.Fs, *configPath, cmd.Flags())
			if err != nil {
				return err
			}
			data, err := cfg.YAML()
			if err != nil {
				return errors.Wrap(err, "rendering configuration")
			}
			_, err = a.Stdout.Write(data)
			return err
		},
	})
	return cmd
}

// Main is the main entry point.
func Main() {
	c, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := NewApp()
	start := time.Now()
	if err := a.Command(c).Execute(); err != nil {
		fmt.Fprintf(a.Stderr, "Error after %s: %s\n", time.Since(start).Round(time.Millisecond), err)
		cancel()
		os.Exit(1)
	}
}
