package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/elbv2"

	"github.com/OldStager01/vm-scaling/internal/logger"
	"github.com/OldStager01/vm-scaling/internal/provision"
	"github.com/OldStager01/vm-scaling/pkg/config"
)

const (
	ScaleOutAlarmName = "ScaleOutAlarm"
	ScaleInAlarmName  = "ScaleInAlarm"

	scaleOutPolicyName = "ScaleOutPolicy"
	scaleInPolicyName  = "ScaleInPolicy"
)

// lbSettleDelay gives the ELB service a moment to release the target group
// lock after the load balancer is reported deleted.
const lbSettleDelay = 10 * time.Second

type StackConfig struct {
	EC2         EC2API
	ELB         ELBAPI
	AutoScaling AutoScalingAPI
	CloudWatch  CloudWatchAPI

	Settings      config.AutoScalingConfig
	WebServiceAMI string
	InstanceType  string

	VPCID              string
	Subnets            []string
	WebSecurityGroupID string

	// PollInterval and CapacityTimeout bound the in-service readiness poll.
	PollInterval    time.Duration
	CapacityTimeout time.Duration

	Sleep func(ctx context.Context, d time.Duration)
}

// Stack builds the managed-scaling resources in dependency order and
// remembers the identifiers it needs to undo everything later.
type Stack struct {
	cfg StackConfig

	targetGroupARN  string
	loadBalancerARN string
	loadBalancerDNS string

	scaleOutPolicyARN string
	scaleInPolicyARN  string

	torn bool
}

func NewStack(cfg StackConfig) *Stack {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CapacityTimeout == 0 {
		cfg.CapacityTimeout = 5 * time.Minute
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Stack{cfg: cfg}
}

// LoadBalancerDNS is empty until Build succeeds past the load balancer step.
func (s *Stack) LoadBalancerDNS() string {
	return s.loadBalancerDNS
}

// Build creates launch template, target group, load balancer, listener,
// auto scaling group, scaling policies and alarms, in that order. The load
// balancer is waited on until active before the listener is attached. A
// failed step aborts the build; the caller is expected to Teardown.
func (s *Stack) Build(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"launch template", s.createLaunchTemplate},
		{"target group", s.createTargetGroup},
		{"load balancer", s.createLoadBalancer},
		{"listener", s.createListener},
		{"auto scaling group", s.createGroup},
		{"scaling policies", s.createPolicies},
		{"alarms", s.createAlarms},
	}
	for _, step := range steps {
		logger.Infof("Creating %s", step.name)
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("creating %s: %w", step.name, err)
		}
	}
	return nil
}

func (s *Stack) createLaunchTemplate(ctx context.Context) error {
	_, err := s.cfg.EC2.CreateLaunchTemplateWithContext(ctx, &ec2.CreateLaunchTemplateInput{
		LaunchTemplateName: aws.String(s.cfg.Settings.LaunchTemplateName),
		LaunchTemplateData: &ec2.RequestLaunchTemplateData{
			ImageId:          aws.String(s.cfg.WebServiceAMI),
			InstanceType:     aws.String(s.cfg.InstanceType),
			SecurityGroupIds: aws.StringSlice([]string{s.cfg.WebSecurityGroupID}),
			TagSpecifications: []*ec2.LaunchTemplateTagSpecificationRequest{{
				ResourceType: aws.String(ec2.ResourceTypeInstance),
				Tags:         projectTags(),
			}},
			// Detailed monitoring feeds the CPU alarms at 1-minute granularity.
			Monitoring: &ec2.LaunchTemplatesMonitoringRequest{Enabled: aws.Bool(true)},
		},
	})
	return err
}

func (s *Stack) createTargetGroup(ctx context.Context) error {
	out, err := s.cfg.ELB.CreateTargetGroupWithContext(ctx, &elbv2.CreateTargetGroupInput{
		Name:                aws.String(s.cfg.Settings.TargetGroupName),
		Protocol:            aws.String(elbv2.ProtocolEnumHttp),
		Port:                aws.Int64(80),
		VpcId:               aws.String(s.cfg.VPCID),
		HealthCheckProtocol: aws.String(elbv2.ProtocolEnumHttp),
		HealthCheckPath:     aws.String("/"),
		TargetType:          aws.String(elbv2.TargetTypeEnumInstance),
	})
	if err != nil {
		return err
	}
	if len(out.TargetGroups) == 0 {
		return errors.New("no target group in response")
	}
	s.targetGroupARN = aws.StringValue(out.TargetGroups[0].TargetGroupArn)
	return nil
}

func (s *Stack) createLoadBalancer(ctx context.Context) error {
	out, err := s.cfg.ELB.CreateLoadBalancerWithContext(ctx, &elbv2.CreateLoadBalancerInput{
		Name:           aws.String(s.cfg.Settings.LoadBalancerName),
		Subnets:        aws.StringSlice(s.cfg.Subnets),
		SecurityGroups: aws.StringSlice([]string{s.cfg.WebSecurityGroupID}),
		Scheme:         aws.String(elbv2.LoadBalancerSchemeEnumInternetFacing),
		Type:           aws.String(elbv2.LoadBalancerTypeEnumApplication),
		Tags:           []*elbv2.Tag{{Key: aws.String(provision.ProjectTagKey), Value: aws.String(provision.ProjectTagValue)}},
	})
	if err != nil {
		return err
	}
	if len(out.LoadBalancers) == 0 {
		return errors.New("no load balancer in response")
	}
	s.loadBalancerARN = aws.StringValue(out.LoadBalancers[0].LoadBalancerArn)
	s.loadBalancerDNS = aws.StringValue(out.LoadBalancers[0].DNSName)

	logger.Info("Waiting for load balancer to become active")
	return s.cfg.ELB.WaitUntilLoadBalancerAvailableWithContext(ctx, &elbv2.DescribeLoadBalancersInput{
		LoadBalancerArns: aws.StringSlice([]string{s.loadBalancerARN}),
	})
}

func (s *Stack) createListener(ctx context.Context) error {
	_, err := s.cfg.ELB.CreateListenerWithContext(ctx, &elbv2.CreateListenerInput{
		LoadBalancerArn: aws.String(s.loadBalancerARN),
		Protocol:        aws.String(elbv2.ProtocolEnumHttp),
		Port:            aws.Int64(80),
		DefaultActions: []*elbv2.Action{{
			Type:           aws.String(elbv2.ActionTypeEnumForward),
			TargetGroupArn: aws.String(s.targetGroupARN),
		}},
	})
	return err
}

func (s *Stack) createGroup(ctx context.Context) error {
	set := s.cfg.Settings
	_, err := s.cfg.AutoScaling.CreateAutoScalingGroupWithContext(ctx, &autoscaling.CreateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(set.GroupName),
		LaunchTemplate: &autoscaling.LaunchTemplateSpecification{
			LaunchTemplateName: aws.String(set.LaunchTemplateName),
			Version:            aws.String("$Latest"),
		},
		MinSize:           aws.Int64(set.MinSize),
		MaxSize:           aws.Int64(set.MaxSize),
		DesiredCapacity:   aws.Int64(1),
		DefaultCooldown:   aws.Int64(set.DefaultCooldown),
		TargetGroupARNs:   aws.StringSlice([]string{s.targetGroupARN}),
		VPCZoneIdentifier: aws.String(strings.Join(s.cfg.Subnets, ",")),
		Tags: []*autoscaling.Tag{{
			Key:               aws.String(provision.ProjectTagKey),
			Value:             aws.String(provision.ProjectTagValue),
			PropagateAtLaunch: aws.Bool(true),
		}},
		HealthCheckType:        aws.String("EC2"),
		HealthCheckGracePeriod: aws.Int64(set.HealthCheckGracePeriod),
	})
	return err
}

func (s *Stack) createPolicies(ctx context.Context) error {
	set := s.cfg.Settings

	out, err := s.cfg.AutoScaling.PutScalingPolicyWithContext(ctx, &autoscaling.PutScalingPolicyInput{
		AutoScalingGroupName: aws.String(set.GroupName),
		PolicyName:           aws.String(scaleOutPolicyName),
		PolicyType:           aws.String("SimpleScaling"),
		AdjustmentType:       aws.String("ChangeInCapacity"),
		ScalingAdjustment:    aws.Int64(set.ScaleOutAdjustment),
		Cooldown:             aws.Int64(set.ScaleOutCooldown),
	})
	if err != nil {
		return err
	}
	s.scaleOutPolicyARN = aws.StringValue(out.PolicyARN)

	out, err = s.cfg.AutoScaling.PutScalingPolicyWithContext(ctx, &autoscaling.PutScalingPolicyInput{
		AutoScalingGroupName: aws.String(set.GroupName),
		PolicyName:           aws.String(scaleInPolicyName),
		PolicyType:           aws.String("SimpleScaling"),
		AdjustmentType:       aws.String("ChangeInCapacity"),
		ScalingAdjustment:    aws.Int64(set.ScaleInAdjustment),
		Cooldown:             aws.Int64(set.ScaleInCooldown),
	})
	if err != nil {
		return err
	}
	s.scaleInPolicyARN = aws.StringValue(out.PolicyARN)
	return nil
}

func (s *Stack) createAlarms(ctx context.Context) error {
	set := s.cfg.Settings
	dimensions := []*cloudwatch.Dimension{{
		Name:  aws.String("AutoScalingGroupName"),
		Value: aws.String(set.GroupName),
	}}

	_, err := s.cfg.CloudWatch.PutMetricAlarmWithContext(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(ScaleOutAlarmName),
		MetricName:         aws.String("CPUUtilization"),
		Namespace:          aws.String("AWS/EC2"),
		Statistic:          aws.String(cloudwatch.StatisticAverage),
		Dimensions:         dimensions,
		Period:             aws.Int64(set.AlarmPeriod),
		EvaluationPeriods:  aws.Int64(set.ScaleOutEvaluationPeriods),
		Threshold:          aws.Float64(set.CPUUpperThreshold),
		ComparisonOperator: aws.String(cloudwatch.ComparisonOperatorGreaterThanThreshold),
		AlarmActions:       aws.StringSlice([]string{s.scaleOutPolicyARN}),
	})
	if err != nil {
		return err
	}

	_, err = s.cfg.CloudWatch.PutMetricAlarmWithContext(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(ScaleInAlarmName),
		MetricName:         aws.String("CPUUtilization"),
		Namespace:          aws.String("AWS/EC2"),
		Statistic:          aws.String(cloudwatch.StatisticAverage),
		Dimensions:         dimensions,
		Period:             aws.Int64(set.AlarmPeriod),
		EvaluationPeriods:  aws.Int64(set.ScaleInEvaluationPeriods),
		Threshold:          aws.Float64(set.CPULowerThreshold),
		ComparisonOperator: aws.String(cloudwatch.ComparisonOperatorLessThanThreshold),
		AlarmActions:       aws.StringSlice([]string{s.scaleInPolicyARN}),
	})
	return err
}

func projectTags() []*ec2.Tag {
	return []*ec2.Tag{{
		Key:   aws.String(provision.ProjectTagKey),
		Value: aws.String(provision.ProjectTagValue),
	}}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
