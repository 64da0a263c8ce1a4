// Package config resolves contextgraph settings from the YAML config file,
// the environment and CLI flags, remembering where each value came from.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/contextgraph/internal/extract"
	"github.com/hurttlocker/contextgraph/internal/llm"
)

// ErrAPIKeyRequired is returned when the selected provider has no credential.
var ErrAPIKeyRequired = llm.ErrAPIKeyRequired

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath   string
	CLILLM       string
	CLIDBPath    string
	CLILogLevel  string
	CLILogFormat string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath ResolvedValue `json:"db_path"`

	LLM               ResolvedValue `json:"llm"`
	MaxTokens         ResolvedValue `json:"max_tokens"`
	InputCostPer1K    ResolvedValue `json:"input_cost_per_1k"`
	OutputCostPer1K   ResolvedValue `json:"output_cost_per_1k"`
	RequestsPerMinute ResolvedValue `json:"requests_per_minute"`

	UserName      ResolvedValue `json:"user_name"`
	UserOwnerName ResolvedValue `json:"user_owner_name"`
	UserSlug      ResolvedValue `json:"user_slug"`
	UserAliases   ResolvedValue `json:"user_aliases"`

	LogLevel  ResolvedValue `json:"log_level"`
	LogFormat ResolvedValue `json:"log_format"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	LLM    struct {
		Provider          string  `yaml:"provider"`
		APIKey            string  `yaml:"api_key"`
		MaxTokens         int     `yaml:"max_tokens"`
		InputCostPer1K    float64 `yaml:"input_cost_per_1k"`
		OutputCostPer1K   float64 `yaml:"output_cost_per_1k"`
		RequestsPerMinute int     `yaml:"requests_per_minute"`
	} `yaml:"llm"`
	User struct {
		Name      string   `yaml:"name"`
		OwnerName string   `yaml:"owner_name"`
		Slug      string   `yaml:"slug"`
		Aliases   []string `yaml:"aliases"`
	} `yaml:"user"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// providerKeyEnv maps a provider to the environment variable holding its key.
var providerKeyEnv = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".contextgraph", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}
	setDefaults(&out)

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LLM, cfg.LLM.Provider, SourceConfig, path)
		applyNumber(&out.MaxTokens, float64(cfg.LLM.MaxTokens), path)
		applyNumber(&out.InputCostPer1K, cfg.LLM.InputCostPer1K, path)
		applyNumber(&out.OutputCostPer1K, cfg.LLM.OutputCostPer1K, path)
		applyNumber(&out.RequestsPerMinute, float64(cfg.LLM.RequestsPerMinute), path)
		apply(&out.UserName, cfg.User.Name, SourceConfig, path)
		apply(&out.UserOwnerName, cfg.User.OwnerName, SourceConfig, path)
		apply(&out.UserSlug, cfg.User.Slug, SourceConfig, path)
		apply(&out.UserAliases, strings.Join(cfg.User.Aliases, ","), SourceConfig, path)
		apply(&out.LogLevel, cfg.Log.Level, SourceConfig, path)
		apply(&out.LogFormat, cfg.Log.Format, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			provider := providerOf(cfg.LLM.Provider)
			if provider == "" {
				provider = "default"
			}
			out.LLMKeys[provider] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	applyEnv(&out.DBPath, "CONTEXTGRAPH_DB")
	applyEnv(&out.LLM, "CONTEXTGRAPH_LLM")
	applyEnv(&out.UserName, "CONTEXTGRAPH_USER_NAME")
	applyEnv(&out.UserOwnerName, "CONTEXTGRAPH_USER_OWNER_NAME")
	applyEnv(&out.UserSlug, "CONTEXTGRAPH_USER_SLUG")
	applyEnv(&out.UserAliases, "CONTEXTGRAPH_USER_ALIASES")
	applyEnv(&out.LogLevel, "CONTEXTGRAPH_LOG_LEVEL")

	for provider, env := range providerKeyEnv {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLM, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")
	apply(&out.LogFormat, opts.CLILogFormat, SourceCLI, "--log-format")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	return out, nil
}

func setDefaults(out *ResolvedConfig) {
	def := func(v string) ResolvedValue {
		return ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
	}
	out.DBPath = def(expandUserPath("~/.contextgraph/contextgraph.db"))
	out.LLM = def("anthropic/" + llm.DefaultModel)
	out.MaxTokens = def(strconv.Itoa(extract.DefaultMaxTokens))
	out.InputCostPer1K = def(formatFloat(extract.DefaultInputCostPer1K))
	out.OutputCostPer1K = def(formatFloat(extract.DefaultOutputCostPer1K))
	out.RequestsPerMinute = def("0")
	out.UserName = def("User")
	out.LogLevel = def("info")
	out.LogFormat = def("text")
}

// APIKeyForProvider returns the key for a provider or "provider/model" value.
// A config key without a provider applies to any provider.
func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

// LLMConfig builds the provider config. A missing key for the selected
// provider fails with ErrAPIKeyRequired.
func (r ResolvedConfig) LLMConfig() (llm.Config, error) {
	cfg, err := llm.ParseLLMFlag(r.LLM.Value)
	if err != nil {
		return llm.Config{}, err
	}
	key := r.APIKeyForProvider(cfg.Provider)
	if key.Value == "" {
		return llm.Config{}, fmt.Errorf("%w: %s provider needs %s or llm.api_key in %s",
			ErrAPIKeyRequired, cfg.Provider, providerKeyEnv[cfg.Provider], r.ConfigPath)
	}
	cfg.APIKey = key.Value

	rpm, err := parseInt(r.RequestsPerMinute)
	if err != nil {
		return llm.Config{}, err
	}
	cfg.RequestsPerMinute = rpm
	return cfg, nil
}

// Identity builds the user identity handed to the resolver.
func (r ResolvedConfig) Identity() extract.Identity {
	var aliases []string
	for _, a := range strings.Split(r.UserAliases.Value, ",") {
		if a = strings.TrimSpace(a); a != "" {
			aliases = append(aliases, a)
		}
	}
	return extract.NewIdentity(r.UserName.Value, r.UserOwnerName.Value, r.UserSlug.Value, aliases)
}

// RunnerConfig builds the extraction runner settings.
func (r ResolvedConfig) RunnerConfig(logger *slog.Logger) (extract.RunnerConfig, error) {
	maxTokens, err := parseInt(r.MaxTokens)
	if err != nil {
		return extract.RunnerConfig{}, err
	}
	in, err := parseFloat(r.InputCostPer1K)
	if err != nil {
		return extract.RunnerConfig{}, err
	}
	outRate, err := parseFloat(r.OutputCostPer1K)
	if err != nil {
		return extract.RunnerConfig{}, err
	}
	return extract.RunnerConfig{
		Identity:        r.Identity(),
		MaxTokens:       maxTokens,
		InputCostPer1K:  in,
		OutputCostPer1K: outRate,
		Logger:          logger,
	}, nil
}

func parseInt(v ResolvedValue) (int, error) {
	s := strings.TrimSpace(v.Value)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q from %s: %w", s, v.From, err)
	}
	return n, nil
}

func parseFloat(v ResolvedValue) (float64, error) {
	s := strings.TrimSpace(v.Value)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q from %s: %w", s, v.From, err)
	}
	return f, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

// applyNumber applies a config-file number; zero means unset.
func applyNumber(dst *ResolvedValue, n float64, path string) {
	if n <= 0 {
		return
	}
	*dst = ResolvedValue{Value: formatFloat(n), Source: SourceConfig, From: path}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
