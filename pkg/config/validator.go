package config

import (
	"errors"
	"fmt"
)

// Validate checks the fields every runner depends on.
func (c *Config) Validate() error {
	var errs []error

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level must be one of: debug, info, warn, error"))
	}

	if c.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if c.LoadGeneratorAMI == "" {
		errs = append(errs, errors.New("load_generator_ami is required"))
	}
	if c.WebServiceAMI == "" {
		errs = append(errs, errors.New("web_service_ami is required"))
	}
	if c.InstanceType == "" {
		errs = append(errs, errors.New("instance_type is required"))
	}

	if c.Scaling.RPSLowThreshold <= 0 {
		errs = append(errs, errors.New("rps_low_threshold must be positive"))
	}
	if c.Scaling.Cooldown <= 0 {
		errs = append(errs, errors.New("scale_cooldown must be positive"))
	}
	if c.Scaling.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}

	if c.Probe.Timeout <= 0 {
		errs = append(errs, errors.New("probe_timeout must be positive"))
	}
	if c.Probe.Interval <= 0 {
		errs = append(errs, errors.New("probe_interval must be positive"))
	}
	if c.Probe.MaxAttempts <= 0 {
		errs = append(errs, errors.New("probe_max_attempts must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %v", errs)
	}

	return nil
}

// ValidateAutoScaling additionally checks the fields the managed-scaling
// runner provisions AWS resources from.
func (c *Config) ValidateAutoScaling() error {
	if err := c.Validate(); err != nil {
		return err
	}

	var errs []error
	a := c.AutoScaling

	if a.LaunchTemplateName == "" {
		errs = append(errs, errors.New("launch_template_name is required"))
	}
	if a.TargetGroupName == "" {
		errs = append(errs, errors.New("auto_scaling_target_group is required"))
	}
	if a.LoadBalancerName == "" {
		errs = append(errs, errors.New("load_balancer_name is required"))
	}
	if a.GroupName == "" {
		errs = append(errs, errors.New("auto_scaling_group_name is required"))
	}

	if a.MinSize <= 0 {
		errs = append(errs, errors.New("asg_min_size must be positive"))
	}
	if a.MaxSize < a.MinSize {
		errs = append(errs, errors.New("asg_max_size must be >= asg_min_size"))
	}
	if a.AlarmPeriod <= 0 {
		errs = append(errs, errors.New("alarm_period must be positive"))
	}
	if a.CPUUpperThreshold <= a.CPULowerThreshold {
		errs = append(errs, errors.New("cpu_upper_threshold must be greater than cpu_lower_threshold"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %v", errs)
	}

	return nil
}
