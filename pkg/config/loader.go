package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("horizontal-scaling")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// Environment variable settings
	v.SetEnvPrefix("VMSCALING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("region", "us-east-1")
	v.SetDefault("log_level", "info")
	v.SetDefault("instance_type", "t2.micro")

	// Reactive scaling defaults
	v.SetDefault("rps_low_threshold", 50.0)
	v.SetDefault("scale_cooldown", "100s")
	v.SetDefault("poll_interval", "1s")
	v.SetDefault("log_dir", ".")

	// Worker health probe defaults
	v.SetDefault("probe_timeout", "1s")
	v.SetDefault("probe_interval", "2s")
	v.SetDefault("probe_max_attempts", 40)

	// Auto-scaling infrastructure defaults
	v.SetDefault("asg_min_size", 1)
	v.SetDefault("asg_max_size", 2)
	v.SetDefault("asg_default_cool_down_period", 60)
	v.SetDefault("health_check_grace_period", 60)
	v.SetDefault("scale_out_adjustment", 1)
	v.SetDefault("scale_in_adjustment", -1)
	v.SetDefault("cool_down_period_scale_out", 60)
	v.SetDefault("cool_down_period_scale_in", 60)
	v.SetDefault("alarm_period", 60)
	v.SetDefault("alarm_evaluation_periods_scale_out", 1)
	v.SetDefault("alarm_evaluation_periods_scale_in", 1)
	v.SetDefault("cpu_upper_threshold", 70.0)
	v.SetDefault("cpu_lower_threshold", 20.0)
}
