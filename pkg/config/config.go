package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Settings holds everything the orchestration layer needs to talk to the
// assistant backend. Values come from the config file, environment variables
// with the GRILLO_ prefix, and command line flags, in increasing precedence.
type Settings struct {
	BaseURL   string `yaml:"base-url" mapstructure:"base-url"`
	AuthToken string `yaml:"auth-token" mapstructure:"auth-token"`
	Model     string `yaml:"model" mapstructure:"model"`

	Retry  RetrySettings  `yaml:"retry" mapstructure:"retry"`
	Upload UploadSettings `yaml:"upload" mapstructure:"upload"`
}

type RetrySettings struct {
	MaxAttempts    int           `yaml:"max-attempts" mapstructure:"max-attempts"`
	InitialBackoff time.Duration `yaml:"initial-backoff" mapstructure:"initial-backoff"`
}

type UploadSettings struct {
	WaitTimeout  time.Duration `yaml:"wait-timeout" mapstructure:"wait-timeout"`
	PollInterval time.Duration `yaml:"poll-interval" mapstructure:"poll-interval"`
}

func Default() *Settings {
	return &Settings{
		Model: "gpt-4o-mini",
		Retry: RetrySettings{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
		},
		Upload: UploadSettings{
			WaitTimeout:  10 * time.Second,
			PollInterval: 200 * time.Millisecond,
		},
	}
}

// Load reads settings from the given config file (or the default search
// paths when empty) and the environment.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("grillo")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.grillo")
		v.AddConfigPath("/etc/grillo")
	}

	settings := Default()
	setDefaults(v, settings)

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file is fine, defaults plus env apply
	} else if err != nil {
		return nil, errors.Wrap(err, "could not read config file")
	}

	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal settings")
	}

	return settings, nil
}

func setDefaults(v *viper.Viper, s *Settings) {
	v.SetDefault("base-url", s.BaseURL)
	v.SetDefault("auth-token", s.AuthToken)
	v.SetDefault("model", s.Model)
	v.SetDefault("retry.max-attempts", s.Retry.MaxAttempts)
	v.SetDefault("retry.initial-backoff", s.Retry.InitialBackoff)
	v.SetDefault("upload.wait-timeout", s.Upload.WaitTimeout)
	v.SetDefault("upload.poll-interval", s.Upload.PollInterval)
}

// Dump renders the settings as YAML, with the auth token redacted.
func (s *Settings) Dump() (string, error) {
	copy_ := *s
	if copy_.AuthToken != "" {
		copy_.AuthToken = "***"
	}
	b, err := yaml.Marshal(&copy_)
	if err != nil {
		return "", errors.Wrap(err, "could not marshal settings")
	}
	return string(b), nil
}
