// Package config loads runtime settings from an optional YAML file, a .env
// file and SALES_COACH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "SALES_COACH"

type Config struct {
	DBPath      string      `mapstructure:"db_path"`
	Log         Log         `mapstructure:"log"`
	LLM         LLM         `mapstructure:"llm"`
	Pipeline    Pipeline    `mapstructure:"pipeline"`
	Knowledge   Knowledge   `mapstructure:"knowledge"`
	Transcriber Transcriber `mapstructure:"transcriber"`
	Server      Server      `mapstructure:"server"`
	Recovery    Recovery    `mapstructure:"recovery"`
	Export      Export      `mapstructure:"export"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

type LLM struct {
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	MaxElapsed  time.Duration `mapstructure:"max_elapsed"`
}

// Pipeline holds the analysis thresholds.
type Pipeline struct {
	GapThresholdSec    float64 `mapstructure:"gap_threshold_sec"`
	LabelChunkSize     int     `mapstructure:"label_chunk_size"`
	LabelContextWindow int     `mapstructure:"label_context_window"`
	SmoothingMaxChars  int     `mapstructure:"smoothing_max_chars"`
	EvalBatchSize      int     `mapstructure:"eval_batch_size"`
	MinSellerTurns     int     `mapstructure:"min_seller_turns"`
	MinEvalChars       int     `mapstructure:"min_eval_chars"`
	ImpactMinChars     int     `mapstructure:"impact_min_chars"`
}

type Knowledge struct {
	Path string `mapstructure:"path"`
}

type Transcriber struct {
	ASRURL string `mapstructure:"asr_url"`
}

type Server struct {
	Addr           string `mapstructure:"addr"`
	UploadDir      string `mapstructure:"upload_dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

type Recovery struct {
	Delay time.Duration `mapstructure:"delay"`
}

// Export controls the workbook written for every scored job. An empty Dir
// disables it.
type Export struct {
	Dir string `mapstructure:"dir"`
}

// DefaultPipeline returns the thresholds used when nothing is configured.
func DefaultPipeline() Pipeline {
	return Pipeline{
		GapThresholdSec:    1.2,
		LabelChunkSize:     120,
		LabelContextWindow: 15,
		SmoothingMaxChars:  60,
		EvalBatchSize:      5,
		MinSellerTurns:     4,
		MinEvalChars:       5,
		ImpactMinChars:     200,
	}
}

func setDefaults(v *viper.Viper) {
	p := DefaultPipeline()
	v.SetDefault("db_path", "out/sales_coach.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "local")
	v.SetDefault("llm.model", "gpt-4.1-mini")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.call_timeout", 45*time.Second)
	v.SetDefault("llm.max_elapsed", 60*time.Second)
	v.SetDefault("pipeline.gap_threshold_sec", p.GapThresholdSec)
	v.SetDefault("pipeline.label_chunk_size", p.LabelChunkSize)
	v.SetDefault("pipeline.label_context_window", p.LabelContextWindow)
	v.SetDefault("pipeline.smoothing_max_chars", p.SmoothingMaxChars)
	v.SetDefault("pipeline.eval_batch_size", p.EvalBatchSize)
	v.SetDefault("pipeline.min_seller_turns", p.MinSellerTurns)
	v.SetDefault("pipeline.min_eval_chars", p.MinEvalChars)
	v.SetDefault("pipeline.impact_min_chars", p.ImpactMinChars)
	v.SetDefault("knowledge.path", "")
	v.SetDefault("transcriber.asr_url", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.upload_dir", "out/uploads")
	v.SetDefault("server.max_upload_bytes", int64(100<<20))
	v.SetDefault("export.dir", "")
	v.SetDefault("recovery.delay", 5*time.Second)
}

// Load reads configuration. An empty path looks for ./config.yaml and
// silently continues when it does not exist; an explicit path must exist.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		cfg.LLM.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects thresholds the pipeline cannot run with.
func (c Config) Validate() error {
	p := c.Pipeline
	switch {
	case strings.TrimSpace(c.DBPath) == "":
		return errors.New("db_path is required")
	case p.GapThresholdSec <= 0:
		return errors.New("pipeline.gap_threshold_sec must be > 0")
	case p.LabelChunkSize < 1:
		return errors.New("pipeline.label_chunk_size must be >= 1")
	case p.LabelContextWindow < 0:
		return errors.New("pipeline.label_context_window must be >= 0")
	case p.EvalBatchSize < 1:
		return errors.New("pipeline.eval_batch_size must be >= 1")
	case p.MinSellerTurns < 0:
		return errors.New("pipeline.min_seller_turns must be >= 0")
	case c.LLM.CallTimeout <= 0:
		return errors.New("llm.call_timeout must be > 0")
	}
	return nil
}
