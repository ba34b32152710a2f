// Package config loads the experiment description: where the inputs live, which
// sample belongs to which treatment group, which contrasts to test and the
// thresholds used by each stage.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yumyai/stat3deg/internal/util"
	"github.com/yumyai/stat3deg/logger"
	"go.uber.org/zap"
)

const (
	EnvData     = "STAT3DEG_DATA"
	EnvOut      = "STAT3DEG_OUT"
	EnvConfig   = "STAT3DEG_CONFIG"
	EnvLogLevel = "STAT3DEG_LOG_LEVEL"
)

var (
	ErrNoSamples   = errors.New("config: no samples configured or discovered")
	ErrNoContrasts = errors.New("config: no contrasts configured")
)

// Sample binds one count-matrix column to its metadata.
type Sample struct {
	Name      string `yaml:"name"`
	File      string `yaml:"file"`
	Treatment string `yaml:"treatment"`
	Batch     string `yaml:"batch"`
}

// Contrast compares Treatment against Reference (Reference is the intercept level).
type Contrast struct {
	Name      string `yaml:"name"`
	Treatment string `yaml:"treatment"`
	Reference string `yaml:"reference"`
}

type GeneSets struct {
	ProteinCoding    string `yaml:"protein_coding"`
	Housekeeping     string `yaml:"housekeeping"`
	ReferenceDEGs    string `yaml:"reference_degs"`
	LiteratureDEGs   string `yaml:"literature_degs"`
	ExternalUniverse string `yaml:"external_universe"`
}

type FilterConfig struct {
	MinCount   int `yaml:"min_count"`
	MinSamples int `yaml:"min_samples"`
}

type DESeqConfig struct {
	Alpha        float64 `yaml:"alpha"`
	LFCThreshold float64 `yaml:"lfc_threshold"`
	MaxIter      int     `yaml:"max_iter"`
}

type PCAConfig struct {
	NTop int `yaml:"ntop"`
	Axes int `yaml:"axes"`
}

type RUVConfig struct {
	HousekeepingTop int `yaml:"housekeeping_top"`
	K               int `yaml:"k"`
}

// Config is the experiment file plus environment overrides.
type Config struct {
	DataDir      string `yaml:"data_dir"`
	OutputDir    string `yaml:"output_dir"`
	CountDir     string `yaml:"count_dir"`
	CountPattern string `yaml:"count_pattern"`

	Samples   []Sample   `yaml:"samples"`
	Contrasts []Contrast `yaml:"contrasts"`

	GeneSets GeneSets `yaml:"gene_sets"`

	// Contrast whose significant genes are compared against GeneSets.ReferenceDEGs.
	ReferenceContrast string   `yaml:"reference_contrast"`
	GenesOfInterest   []string `yaml:"genes_of_interest"`

	Filter FilterConfig `yaml:"filter"`
	DESeq  DESeqConfig  `yaml:"deseq"`
	PCA    PCAConfig    `yaml:"pca"`
	RUV    RUVConfig    `yaml:"ruv"`

	path string
}

// Default returns the thresholds used for the STAT3 experiment.
func Default() *Config {
	return &Config{
		DataDir:      "./data",
		OutputDir:    "./results",
		CountDir:     "counts",
		CountPattern: "*.txt",
		Filter:       FilterConfig{MinCount: 5, MinSamples: 4},
		DESeq:        DESeqConfig{Alpha: 0.05, LFCThreshold: 1, MaxIter: 100},
		PCA:          PCAConfig{NTop: 500, Axes: 3},
		RUV:          RUVConfig{HousekeepingTop: 1000, K: 1},
	}
}

// LoadEnv reads .env if present. A missing file is not an error.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logger.Warn("No .env found, using local environment")
	}
}

// Load reads the YAML experiment file at path on top of Default and applies
// environment overrides. An empty path falls back to $STAT3DEG_CONFIG and then
// experiment.yaml inside the data dir.
func Load(path string) (*Config, error) {
	cfg := Default()
	if v := os.Getenv(EnvData); v != "" {
		cfg.DataDir = v
	}

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = filepath.Join(cfg.DataDir, "experiment.yaml")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.path = path

	// Environment wins over the file so the same experiment can be pointed at another copy of the data.
	if v := os.Getenv(EnvData); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvOut); v != "" {
		cfg.OutputDir = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Debug("Loaded config", zap.String("path", path), zap.String("data_dir", cfg.DataDir),
		zap.Int("samples", len(cfg.Samples)), zap.Int("contrasts", len(cfg.Contrasts)))
	return cfg, nil
}

// Path is the file the config was read from, empty for Default.
func (c *Config) Path() string { return c.path }

// Validate checks contrasts reference configured treatment levels. Samples may be
// empty; they are discovered from CountDir later.
func (c *Config) Validate() error {
	if len(c.Contrasts) == 0 {
		return ErrNoContrasts
	}
	if c.Filter.MinSamples < 1 {
		return fmt.Errorf("config: filter.min_samples must be >= 1, got %d", c.Filter.MinSamples)
	}
	if c.DESeq.Alpha <= 0 || c.DESeq.Alpha >= 1 {
		return fmt.Errorf("config: deseq.alpha must be in (0,1), got %g", c.DESeq.Alpha)
	}
	seen := map[string]bool{}
	for _, s := range c.Samples {
		if s.Name == "" {
			return fmt.Errorf("config: sample with empty name (file %q)", s.File)
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate sample %q", s.Name)
		}
		seen[s.Name] = true
	}
	names := map[string]bool{}
	for i, ct := range c.Contrasts {
		if ct.Treatment == "" || ct.Reference == "" {
			return fmt.Errorf("config: contrast %d needs treatment and reference", i)
		}
		if ct.Treatment == ct.Reference {
			return fmt.Errorf("config: contrast %q compares %q with itself", ct.Name, ct.Treatment)
		}
		if ct.Name == "" {
			c.Contrasts[i].Name = ct.Reference + "_vs_" + ct.Treatment
		}
		if names[c.Contrasts[i].Name] {
			return fmt.Errorf("config: duplicate contrast %q", c.Contrasts[i].Name)
		}
		names[c.Contrasts[i].Name] = true
	}
	if len(c.Samples) > 0 {
		levels := c.Treatments()
		for _, ct := range c.Contrasts {
			if !contains(levels, ct.Treatment) || !contains(levels, ct.Reference) {
				return fmt.Errorf("config: contrast %q uses a treatment without samples", ct.Name)
			}
		}
	}
	return nil
}

// Treatments lists the treatment levels in first-seen sample order.
func (c *Config) Treatments() []string {
	var levels []string
	for _, s := range c.Samples {
		if !contains(levels, s.Treatment) {
			levels = append(levels, s.Treatment)
		}
	}
	return levels
}

func (c *Config) Contrast(name string) (Contrast, bool) {
	for _, ct := range c.Contrasts {
		if ct.Name == name {
			return ct, true
		}
	}
	return Contrast{}, false
}

// CountPath is the absolute-ish location of the count files.
func (c *Config) CountPath() string {
	return util.Resolve(c.DataDir, c.CountDir)
}

// GeneSetPath resolves a gene-list file name against the data dir.
func (c *Config) GeneSetPath(name string) string {
	return util.Resolve(c.DataDir, name)
}

// SampleFromFile derives a sample record from a count file name when the
// experiment file lists no samples: "WT_2.txt" becomes sample WT_2 with
// treatment WT.
func SampleFromFile(file string) Sample {
	base := filepath.Base(file)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	treatment := name
	if i := strings.LastIndex(name, "_"); i > 0 {
		treatment = name[:i]
	}
	return Sample{Name: name, File: base, Treatment: treatment}
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
