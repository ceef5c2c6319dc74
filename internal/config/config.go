package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode" validate:"oneof=debug release test"`
	LogLevel    string        `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	Endpoint    string        `mapstructure:"endpoint" validate:"required,url"`
	UserID      string        `mapstructure:"user_id" validate:"required,max=64"`
	Region      string        `mapstructure:"region" validate:"required"`
	ControlAddr string        `mapstructure:"control_addr"`
	ReadLimit   int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod  time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	SendBuffer  int           `mapstructure:"send_buffer" validate:"gt=0"`
	Voice       Voice         `mapstructure:"voice"`
	Media       Media         `mapstructure:"media"`
	Chat        Chat          `mapstructure:"chat"`
}

type Voice struct {
	CredentialTimeout time.Duration `mapstructure:"credential_timeout" validate:"gt=0"`
	STUNURL           string        `mapstructure:"stun_url"`
	MaxPeers          int           `mapstructure:"max_peers" validate:"gte=1,lte=16"`
}

type Media struct {
	// Source is "silence" or the path of an Ogg/Opus file to loop.
	Source           string `mapstructure:"source" validate:"required"`
	RecordDir        string `mapstructure:"record_dir"`
	EchoCancellation bool   `mapstructure:"echo_cancellation"`
	NoiseSuppression bool   `mapstructure:"noise_suppression"`
	AutoGainControl  bool   `mapstructure:"auto_gain_control"`
}

type Chat struct {
	Rate  float64 `mapstructure:"rate" validate:"gt=0"`
	Burst int     `mapstructure:"burst" validate:"gte=1"`
}

// Flags returns the command-line flags Load understands.
func Flags() *flag.FlagSet {
	f := flag.NewFlagSet("roomvoice", flag.ContinueOnError)
	f.String("endpoint", "", "room service websocket URL")
	f.String("user_id", "", "local user id")
	f.String("region", "", "relay region when the channel ARN names none")
	f.String("control_addr", "", "address of the local control API, empty to disable")
	f.String("log_level", "", "log level")
	f.String("media.source", "", `"silence" or an Ogg/Opus file`)
	f.String("media.record_dir", "", "directory to record remote audio into")
	return f
}

// Load reads config/config.<CONFIG_ENV>.yaml, then ROOMVOICE_* variables, then args.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("endpoint", "ws://127.0.0.1:8080/ws")
	v.SetDefault("user_id", "")
	v.SetDefault("region", "us-east-1")
	v.SetDefault("control_addr", "127.0.0.1:7070")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("voice.credential_timeout", "10s")
	v.SetDefault("voice.stun_url", "")
	v.SetDefault("voice.max_peers", 4)
	v.SetDefault("media.source", "silence")
	v.SetDefault("media.record_dir", "")
	v.SetDefault("media.echo_cancellation", true)
	v.SetDefault("media.noise_suppression", true)
	v.SetDefault("media.auto_gain_control", true)
	v.SetDefault("chat.rate", 2.0)
	v.SetDefault("chat.burst", 5)

	v.SetEnvPrefix("ROOMVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	f := Flags()
	if err := f.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	f.VisitAll(func(fl *flag.Flag) {
		if fl.Changed {
			_ = v.BindPFlag(fl.Name, fl)
		}
	})

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | User: %s | Endpoint: %s\n", cfg.Mode, cfg.UserID, cfg.Endpoint)
	return &cfg, nil
}
