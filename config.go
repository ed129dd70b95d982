package mqtt311

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "4s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config mirrors the YAML client configuration document.
// Note: struct fields must be public in order for unmarshal to
// correctly populate the data.
type Config struct {
	Address      string   `yaml:"address"`
	ClientID     string   `yaml:"client_id"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	KeepAlive    uint16   `yaml:"keep_alive"`
	CleanSession *bool    `yaml:"clean_session"`
	Resubscribe  *bool    `yaml:"resubscribe"`
	MaxReconnect *int     `yaml:"max_reconnects"`
	ConnTimeout  Duration `yaml:"connect_timeout"`
	ReqTimeout   Duration `yaml:"request_timeout"`
	BackoffMin   Duration `yaml:"backoff_min"`
	BackoffMax   Duration `yaml:"backoff_max"`

	Will struct {
		Topic   string `yaml:"topic"`
		QoS     byte   `yaml:"qos"`
		Retain  bool   `yaml:"retain"`
		Payload string `yaml:"payload"`
	} `yaml:"will"`
}

// Options converts the configuration into client options.
func (c *Config) Options() []Option {
	var opts []Option

	if c.ClientID != "" {
		opts = append(opts, WithClientID(c.ClientID))
	}
	if c.Username != "" {
		opts = append(opts, WithCredentials(c.Username, c.Password))
	}
	if c.KeepAlive > 0 {
		opts = append(opts, WithKeepAlive(c.KeepAlive))
	}
	if c.CleanSession != nil {
		opts = append(opts, WithCleanSession(*c.CleanSession))
	}
	if c.Resubscribe != nil {
		opts = append(opts, WithResubscribe(*c.Resubscribe))
	}
	if c.MaxReconnect != nil {
		opts = append(opts, WithMaxReconnects(*c.MaxReconnect))
	}
	if c.ConnTimeout > 0 {
		opts = append(opts, WithConnectTimeout(time.Duration(c.ConnTimeout)))
	}
	if c.ReqTimeout > 0 {
		opts = append(opts, WithRequestTimeout(time.Duration(c.ReqTimeout)))
	}
	if c.BackoffMin > 0 || c.BackoffMax > 0 {
		min, max := time.Duration(c.BackoffMin), time.Duration(c.BackoffMax)
		if min <= 0 {
			min = time.Second
		}
		if max < min {
			max = min
		}
		opts = append(opts, WithReconnectBackoff(min, max))
	}
	if c.Will.Topic != "" {
		opts = append(opts, WithWill(c.Will.Topic, c.Will.QoS, c.Will.Retain, []byte(c.Will.Payload)))
	}

	return opts
}

// ParseConfig reads a YAML configuration document.
func ParseConfig(data []byte) (*Config, error) {
	config := new(Config)
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	return config, nil
}

// OpenConfigFile reads a YAML configuration file.
func OpenConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}
