package config

import (
	"os"
	"time"

	"github.com/koding/multiconfig"
)

// Config defines benchmark server configuration
type Config struct {
	// model provider
	APIKey      string        `flagUsage:"OpenRouter API key (falls back to OPENROUTER_API_KEY)"`
	BaseURL     string        `flagUsage:"model provider base URL" default:"https://openrouter.ai/api/v1"`
	HTTPTimeout time.Duration `flagUsage:"provider HTTP client timeout" default:"15m"`

	// suite & documentation
	SuitePath  string `flagUsage:"path to the test suite file (yaml or json)" default:"suite.yaml"`
	VariantDir string `flagUsage:"directory holding documentation variant files" default:"variants"`

	// artifact store
	Dir string `flagUsage:"directory to store run artifacts and eval results (in memory when empty)"`

	// scheduling
	BatchConcurrency int           `flagUsage:"concurrent batches per run" default:"4"`
	RunConcurrency   int           `flagUsage:"concurrent runs queue-wide" default:"4"`
	EvalConcurrency  int           `flagUsage:"concurrent artifact evaluations" default:"2"`
	BatchTimeout     time.Duration `flagUsage:"wall clock limit per model call" default:"10m"`
	RunTimeout       time.Duration `flagUsage:"soft wall clock limit per run" default:"30m"`
	MaxRetries       int           `flagUsage:"max retries per batch after the first attempt" default:"3"`

	// scoring
	CheckCommand      string        `flagUsage:"jac syntax check command" default:"jac check"`
	CheckTimeout      time.Duration `flagUsage:"timeout for one syntax check invocation" default:"5s"`
	ForbiddenFraction float64       `flagUsage:"points fraction subtracted per forbidden match" default:"0.25"`
	SyntaxFraction    float64       `flagUsage:"points fraction subtracted per soft syntax violation" default:"0.05"`
	CompileFraction   float64       `flagUsage:"remaining score fraction subtracted on compile check failure" default:"1"`

	// event bus
	EventRingSize  int `flagUsage:"events retained per topic for cursor replay" default:"1024"`
	EventQueueSize int `flagUsage:"bounded per-subscriber event queue" default:"256"`

	// server config
	HTTPAddr      string `flagUsage:"specifies the http binding address" default:":8600"`
	MonitorAddr   string `flagUsage:"specifies the metrics binding address" default:":8601"`
	AuthToken     string `flagUsage:"bearer token auth for REST"`
	EnableDebug   bool   `flagUsage:"enable debug endpoint"`
	EnableMetrics bool   `flagUsage:"enable prometheus metrics endpoint"`

	// logger config
	Release        bool `flagUsage:"release level of logs"`
	Silent         bool `flagUsage:"do not print logs"`
	EnableDebugLog bool `flagUsage:"enable debug log level"`

	// show version and exit
	Version bool `flagUsage:"show version and exit"`
}

// Load loads config from flag & environment variables
func (c *Config) Load() error {
	cl := multiconfig.MultiLoader(
		&multiconfig.TagLoader{},
		&multiconfig.EnvironmentLoader{
			Prefix:    "JB",
			CamelCase: true,
		},
		&multiconfig.FlagLoader{
			CamelCase: true,
			EnvPrefix: "JB",
		},
	)
	if err := cl.Load(c); err != nil {
		return err
	}
	if os.Getpid() == 1 {
		c.Release = true
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return nil
}
