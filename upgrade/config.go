// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package upgrade

import (
	"encoding"
	"reflect"
	"strings"
	"time"

	"github.com/danjacques/gosendstream/pipeline"
	"github.com/danjacques/gosendstream/sendstream"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables that override configuration
// keys, e.g. SEND_STREAM_UPGRADE_COMPRESSION_LEVEL.
const EnvPrefix = "SEND_STREAM_UPGRADE"

// Config is the complete configuration of an upgrade run.
//
// Values are resolved from, in increasing priority, the defaults, an optional
// YAML file, the environment, and explicitly set command-line flags.
type Config struct {
	AvoidCRCingInput bool `mapstructure:"avoid_crcing_input" yaml:"avoid_crcing_input"`
	BytesToLog       int  `mapstructure:"bytes_to_log" yaml:"bytes_to_log" validate:"gte=0"`
	CompressionLevel int  `mapstructure:"compression_level" yaml:"compression_level" validate:"gte=0,lte=22"`

	// Input and Output are file paths. Empty means stdin and stdout.
	Input  string `mapstructure:"input" yaml:"input"`
	Output string `mapstructure:"output" yaml:"output"`

	MaximumBatchedExtentSize int  `mapstructure:"maximum_batched_extent_size" yaml:"maximum_batched_extent_size" validate:"gte=0,lte=131072"`
	PadWithDummyCommands     bool `mapstructure:"pad_with_dummy_commands" yaml:"pad_with_dummy_commands"`
	SerdeChecks              bool `mapstructure:"serde_checks" yaml:"serde_checks"`

	// MaxCommandSize bounds the size of any input command, header included.
	MaxCommandSize int `mapstructure:"max_command_size" yaml:"max_command_size" validate:"gte=65536"`

	ReadBufferSize  int `mapstructure:"read_buffer_size" yaml:"read_buffer_size" validate:"gt=0"`
	WriteBufferSize int `mapstructure:"write_buffer_size" yaml:"write_buffer_size" validate:"gt=0"`

	// ThreadCount of 1 upgrades on the calling goroutine. Any other value
	// runs the pipeline; 0 sizes it from the CPU count.
	ThreadCount      int `mapstructure:"thread_count" yaml:"thread_count" validate:"gte=0"`
	MaxCachedBuffers int `mapstructure:"max_cached_buffers" yaml:"max_cached_buffers" validate:"gt=0"`
	// QueueCapacity bounds each pipeline queue. 0 sizes it from the thread
	// count.
	QueueCapacity   int           `mapstructure:"queue_capacity" yaml:"queue_capacity" validate:"gte=0"`
	MinPollInterval time.Duration `mapstructure:"min_poll_interval" yaml:"min_poll_interval" validate:"gt=0"`
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval" yaml:"max_poll_interval" validate:"gtefield=MinPollInterval"`

	Quiet   bool `mapstructure:"quiet" yaml:"quiet"`
	Verbose int  `mapstructure:"verbose" yaml:"verbose" validate:"gte=0"`

	DestinationVersion   sendstream.Version `mapstructure:"destination_version" yaml:"destination_version"`
	ContainerCompression Compression        `mapstructure:"container_compression" yaml:"container_compression"`

	// MetricsAddr, if not empty, serves Prometheus metrics during the run.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		CompressionLevel:         sendstream.DefaultCompressionLevel,
		MaximumBatchedExtentSize: sendstream.DefaultMaximumBatchedExtentSize,
		ReadBufferSize:           sendstream.DefaultReadBufferSize,
		WriteBufferSize:          sendstream.DefaultWriteBufferSize,
		MaxCommandSize:           sendstream.DefaultMaxCommandSize,
		ThreadCount:              1,
		MaxCachedBuffers:         pipeline.DefaultMaxCachedBuffers,
		MinPollInterval:          pipeline.DefaultMinPollInterval,
		MaxPollInterval:          pipeline.DefaultMaxPollInterval,
		DestinationVersion:       sendstream.V2,
		ContainerCompression:     CompressionNone,
	}
}

// Options returns the sendstream Options selected by the Config.
func (cfg *Config) Options() *sendstream.Options {
	return &sendstream.Options{
		AvoidCRCingInput:         cfg.AvoidCRCingInput,
		BytesToLog:               cfg.BytesToLog,
		CompressionLevel:         cfg.CompressionLevel,
		MaximumBatchedExtentSize: cfg.MaximumBatchedExtentSize,
		PadWithDummyCommands:     cfg.PadWithDummyCommands,
		SerdeChecks:              cfg.SerdeChecks,
		ReadBufferSize:           cfg.ReadBufferSize,
		WriteBufferSize:          cfg.WriteBufferSize,
		MaxCommandSize:           cfg.MaxCommandSize,
	}
}

// YAML renders the Config as a YAML document.
func (cfg *Config) YAML() ([]byte, error) { return yaml.Marshal(cfg) }

var validate = validator.New()

// Validate checks the Config's field constraints.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.DestinationVersion != sendstream.V2 {
		return errors.Errorf("destination_version: only %s is supported, not %s", sendstream.V2, cfg.DestinationVersion)
	}
	if _, ok := compressionNames[cfg.ContainerCompression]; !ok {
		return errors.Errorf("container_compression: unknown value %d", int(cfg.ContainerCompression))
	}
	return nil
}

func formatValidationError(err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		e := verrs[0]
		return errors.Errorf("%s: validation failed on %q (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"avoid-crcing-input":          "avoid_crcing_input",
	"bytes-to-log":                "bytes_to_log",
	"compression-level":           "compression_level",
	"input":                       "input",
	"output":                      "output",
	"maximum-batched-extent-size": "maximum_batched_extent_size",
	"pad-with-dummy-commands":     "pad_with_dummy_commands",
	"serde-checks":                "serde_checks",
	"read-buffer-size":            "read_buffer_size",
	"write-buffer-size":           "write_buffer_size",
	"thread-count":                "thread_count",
	"max-cached-buffers":          "max_cached_buffers",
	"queue-capacity":              "queue_capacity",
	"max-command-size":            "max_command_size",
	"min-poll-interval":           "min_poll_interval",
	"max-poll-interval":           "max_poll_interval",
	"quiet":                       "quiet",
	"verbose":                     "verbose",
	"destination-version":         "destination_version",
	"container-compression":       "container_compression",
	"metrics-addr":                "metrics_addr",
}

// LoadConfig resolves a Config.
//
// If path is not empty, it names a YAML file on fs that must exist. flags may
// be nil; otherwise any flag named in flagKeys that was explicitly set
// overrides the other sources.
func LoadConfig(fs afero.Fs, path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)

	// Every key needs a default so that environment overrides are found for
	// keys that appear nowhere else.
	var defaults map[string]interface{}
	if err := mapstructure.Decode(DefaultConfig(), &defaults); err != nil {
		return nil, errors.Wrap(err, "flattening defaults")
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %q", path)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "binding flag --%s", name)
				}
			}
		}
	}

	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			textUnmarshalerHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating config decoder")
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// textUnmarshalerHook decodes strings into types that implement
// encoding.TextUnmarshaler, such as sendstream.Version and Compression.
func textUnmarshalerHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || !reflect.PtrTo(to).Implements(textUnmarshalerType) {
		return data, nil
	}
	result := reflect.New(to)
	if err := result.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(data.(string))); err != nil {
		return nil, err
	}
	return result.Elem().Interface(), nil
}
