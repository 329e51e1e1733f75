// Package simconfig loads the pipeline simulator configuration from TOML.
package simconfig

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Swind/go-render-pipeline/shell"
)

// Duration is a time.Duration written as a Go duration string ("16ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config describes one simulated run.
type Config struct {
	Strategy shell.ThreadStrategyForRendering `toml:"strategy"`

	// Frames to render; OpsPerFrame UI operations are produced each frame.
	Frames      int `toml:"frames"`
	OpsPerFrame int `toml:"ops_per_frame"`

	// TransferAt switches the UI operation queue to TransferTo at that frame.
	// Zero disables the switch.
	TransferAt int                              `toml:"transfer_at"`
	TransferTo shell.ThreadStrategyForRendering `toml:"transfer_to"`

	// SyncEvery forces every n-th frame onto the UI thread. Zero disables.
	SyncEvery int `toml:"sync_every"`

	// MergeFrames is the raster lease taken on every synchronous frame.
	MergeFrames int `toml:"merge_frames"`

	FramePeriod     Duration `toml:"frame_period"`
	VSyncProportion float64  `toml:"vsync_proportion"`
	VSyncTimeout    Duration `toml:"vsync_timeout"`

	// JSGroup selects the shared JS thread used for event producers.
	JSGroup string `toml:"js_group"`

	Pipeline PipelineConfig `toml:"pipeline"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Log      LogConfig      `toml:"log"`
}

// PipelineConfig mirrors shell.ManufactorOptions.
type PipelineConfig struct {
	SeparateTASMThread    bool `toml:"separate_tasm_thread"`
	SeparateLayoutThread  bool `toml:"separate_layout_thread"`
	EnableThreadPoolReuse bool `toml:"enable_thread_pool_reuse"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr         string   `toml:"addr"`
	Namespace    string   `toml:"namespace"`
	PollInterval Duration `toml:"poll_interval"`
}

// LogConfig configures the zerolog backend.
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Strategy:        shell.MultiThreads,
		Frames:          120,
		OpsPerFrame:     32,
		TransferTo:      shell.AllOnUI,
		MergeFrames:     5,
		FramePeriod:     Duration{time.Second / 60},
		VSyncProportion: 0.5,
		VSyncTimeout:    Duration{100 * time.Millisecond},
		Metrics: MetricsConfig{
			Namespace:    "renderpipeline",
			PollInterval: Duration{time.Second},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Parse decodes TOML text over the defaults.
func Parse(text string) (Config, error) {
	cfg := Default()
	if err := decode(text, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decode(text string, cfg *Config) error {
	md, err := toml.Decode(text, cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys: %v", undecoded)
	}
	return nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if !c.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("strategy: invalid value %d", int(c.Strategy)))
	}
	if !c.TransferTo.IsValid() {
		errs = append(errs, fmt.Errorf("transfer_to: invalid value %d", int(c.TransferTo)))
	}
	if c.Frames <= 0 {
		errs = append(errs, errors.New("frames: must be positive"))
	}
	if c.OpsPerFrame < 0 {
		errs = append(errs, errors.New("ops_per_frame: must not be negative"))
	}
	if c.TransferAt < 0 || c.SyncEvery < 0 || c.MergeFrames < 0 {
		errs = append(errs, errors.New("transfer_at, sync_every, merge_frames: must not be negative"))
	}
	if c.FramePeriod.Duration <= 0 {
		errs = append(errs, errors.New("frame_period: must be positive"))
	}
	if c.VSyncProportion <= 0 || c.VSyncProportion > 1 {
		errs = append(errs, errors.New("vsync_proportion: must be in (0, 1]"))
	}
	return errors.Join(errs...)
}

// ManufactorOptions converts the pipeline section.
func (c Config) ManufactorOptions() shell.ManufactorOptions {
	return shell.ManufactorOptions{
		Strategy:              c.Strategy,
		SeparateTASMThread:    c.Pipeline.SeparateTASMThread,
		SeparateLayoutThread:  c.Pipeline.SeparateLayoutThread,
		EnableThreadPoolReuse: c.Pipeline.EnableThreadPoolReuse,
		JSGroupKey:            c.JSGroup,
	}
}
