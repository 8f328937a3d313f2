package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/text/encoding/ianaindex"
	yaml "gopkg.in/yaml.v3"

	"ebr/misc"
)

type (
	LibraryConfig struct {
		// Path to the sqlite database with cached books. Empty path keeps
		// the library in memory for the lifetime of the process.
		Path string `yaml:"path"`
		// MaxBooks limits how many processed books are retained, oldest
		// evictable records are removed first.
		MaxBooks int `yaml:"max_books"`
		// ProtectOpenBook excludes the currently open book from eviction.
		ProtectOpenBook bool `yaml:"protect_open_book"`
	}

	CoverConfig struct {
		// Thumbnail bounds for covers stored in the library.
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	}

	ReaderConfig struct {
		// ImageWorkers caps simultaneous binary decodes during image
		// embedding for a single chapter.
		ImageWorkers int `yaml:"image_workers"`
		// MaxEntrySize limits decompressed size of a single archive entry.
		MaxEntrySize int64 `yaml:"max_entry_size"`
		// ZipNameEncoding forces IANA character set for archive entry names
		// stored without the UTF-8 flag (see IANA.org for names).
		ZipNameEncoding string      `yaml:"zip_name_encoding"`
		Cover           CoverConfig `yaml:"cover"`
	}

	Config struct {
		Version int           `yaml:"version"`
		Library LibraryConfig `yaml:"library"`
		Reader  ReaderConfig  `yaml:"reader"`
		Logging LoggingConfig `yaml:"logging"`
	}
)

func defaultConfig() *Config {
	return &Config{
		Version: 1,
		Library: LibraryConfig{
			Path:            filepath.Join(defaultStateDir(), "library.db"),
			MaxBooks:        20,
			ProtectOpenBook: true,
		},
		Reader: ReaderConfig{
			ImageWorkers: 4,
			MaxEntrySize: 256 * 1024 * 1024,
			Cover:        CoverConfig{Width: 600, Height: 800},
		},
		Logging: LoggingConfig{
			ConsoleLogger: LoggerConfig{Level: "normal"},
			FileLogger:    LoggerConfig{Level: "none", Mode: "append"},
		},
	}
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, misc.GetAppName())
	}
	return "."
}

func unmarshalConfig(data []byte, cfg *Config) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposing its values on top of built-in defaults and validating the
// result. Empty path returns defaults.
func LoadConfiguration(path string) (*Config, error) {
	cfg := defaultConfig()
	if len(path) == 0 {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if cfg, err = unmarshalConfig(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("bad configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported configuration version %d", cfg.Version)
	}
	if cfg.Library.MaxBooks < 1 {
		return fmt.Errorf("library.max_books must be positive, got %d", cfg.Library.MaxBooks)
	}
	if cfg.Reader.ImageWorkers < 1 {
		return fmt.Errorf("reader.image_workers must be positive, got %d", cfg.Reader.ImageWorkers)
	}
	if cfg.Reader.MaxEntrySize <= 0 {
		return fmt.Errorf("reader.max_entry_size must be positive, got %d", cfg.Reader.MaxEntrySize)
	}
	if cp := cfg.Reader.ZipNameEncoding; cp != "" {
		if enc, err := ianaindex.IANA.Encoding(cp); err != nil || enc == nil {
			return fmt.Errorf("unknown zip name encoding %q", cp)
		}
	}
	switch cfg.Logging.ConsoleLogger.Level {
	case "none", "normal", "debug":
	default:
		return fmt.Errorf("unknown console log level %q", cfg.Logging.ConsoleLogger.Level)
	}
	switch cfg.Logging.FileLogger.Level {
	case "none", "normal", "debug":
	default:
		return fmt.Errorf("unknown file log level %q", cfg.Logging.FileLogger.Level)
	}
	return nil
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}
