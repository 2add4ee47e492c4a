package config

import "time"

// Config is the flat JSON configuration shared by the scaling runners. Both
// exercises read the same shape; the auto-scaling fields are only validated
// when that runner is the one consuming them.
type Config struct {
	Region   string `mapstructure:"region"`
	LogLevel string `mapstructure:"log_level"`

	LoadGeneratorAMI string `mapstructure:"load_generator_ami"`
	WebServiceAMI    string `mapstructure:"web_service_ami"`
	InstanceType     string `mapstructure:"instance_type"`

	Scaling     ScalingConfig     `mapstructure:",squash"`
	Probe       ProbeConfig       `mapstructure:",squash"`
	AutoScaling AutoScalingConfig `mapstructure:",squash"`
}

type ScalingConfig struct {
	RPSLowThreshold float64       `mapstructure:"rps_low_threshold"`
	Cooldown        time.Duration `mapstructure:"scale_cooldown"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	LogDir          string        `mapstructure:"log_dir"`
}

type ProbeConfig struct {
	Timeout     time.Duration `mapstructure:"probe_timeout"`
	Interval    time.Duration `mapstructure:"probe_interval"`
	MaxAttempts int           `mapstructure:"probe_max_attempts"`
}

type AutoScalingConfig struct {
	LaunchTemplateName string `mapstructure:"launch_template_name"`
	TargetGroupName    string `mapstructure:"auto_scaling_target_group"`
	LoadBalancerName   string `mapstructure:"load_balancer_name"`
	GroupName          string `mapstructure:"auto_scaling_group_name"`

	MinSize                int64 `mapstructure:"asg_min_size"`
	MaxSize                int64 `mapstructure:"asg_max_size"`
	DefaultCooldown        int64 `mapstructure:"asg_default_cool_down_period"`
	HealthCheckGracePeriod int64 `mapstructure:"health_check_grace_period"`

	ScaleOutAdjustment int64 `mapstructure:"scale_out_adjustment"`
	ScaleInAdjustment  int64 `mapstructure:"scale_in_adjustment"`
	ScaleOutCooldown   int64 `mapstructure:"cool_down_period_scale_out"`
	ScaleInCooldown    int64 `mapstructure:"cool_down_period_scale_in"`

	AlarmPeriod               int64   `mapstructure:"alarm_period"`
	ScaleOutEvaluationPeriods int64   `mapstructure:"alarm_evaluation_periods_scale_out"`
	ScaleInEvaluationPeriods  int64   `mapstructure:"alarm_evaluation_periods_scale_in"`
	CPUUpperThreshold         float64 `mapstructure:"cpu_upper_threshold"`
	CPULowerThreshold         float64 `mapstructure:"cpu_lower_threshold"`
}
