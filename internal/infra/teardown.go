package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/elbv2"

	"github.com/OldStager01/vm-scaling/internal/logger"
	"github.com/OldStager01/vm-scaling/internal/provision"
)

// Teardown deletes everything the stack created, most dependent resources
// first: group, launch template, load balancer, target group, then any
// project-tagged instances still running, and finally the alarms. A failing
// step is logged and the next one still runs; the collected errors are
// returned. Calling Teardown twice is a no-op.
func (s *Stack) Teardown(ctx context.Context) error {
	if s.torn {
		return nil
	}
	s.torn = true

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"auto scaling group", s.deleteGroup},
		{"launch template", s.deleteLaunchTemplate},
		{"load balancer", s.deleteLoadBalancer},
		{"target group", s.deleteTargetGroup},
		{"tagged instances", s.terminateTaggedInstances},
		{"alarms", s.deleteAlarms},
	}

	var errs []error
	for _, step := range steps {
		logger.Infof("Deleting %s", step.name)
		if err := step.fn(ctx); err != nil {
			logger.Errorf("Deleting %s failed: %v", step.name, err)
			errs = append(errs, fmt.Errorf("deleting %s: %w", step.name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Stack) deleteGroup(ctx context.Context) error {
	name := s.cfg.Settings.GroupName
	_, err := s.cfg.AutoScaling.DeleteAutoScalingGroupWithContext(ctx, &autoscaling.DeleteAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(name),
		ForceDelete:          aws.Bool(true),
	})
	if err != nil {
		return err
	}

	// The delete is asynchronous; poll until the group is gone so the launch
	// template and target group are not still referenced when we delete them.
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := s.cfg.AutoScaling.DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
			AutoScalingGroupNames: aws.StringSlice([]string{name}),
		})
		if err != nil || len(out.AutoScalingGroups) == 0 {
			return nil
		}
		logger.Debug("Group deletion in progress")
		s.cfg.Sleep(ctx, s.cfg.PollInterval)
	}
}

func (s *Stack) deleteLaunchTemplate(ctx context.Context) error {
	_, err := s.cfg.EC2.DeleteLaunchTemplateWithContext(ctx, &ec2.DeleteLaunchTemplateInput{
		LaunchTemplateName: aws.String(s.cfg.Settings.LaunchTemplateName),
	})
	return err
}

func (s *Stack) deleteLoadBalancer(ctx context.Context) error {
	// Resolve by name rather than trusting in-memory state, so a re-run after
	// a crashed build still finds the balancer.
	out, err := s.cfg.ELB.DescribeLoadBalancersWithContext(ctx, &elbv2.DescribeLoadBalancersInput{
		Names: aws.StringSlice([]string{s.cfg.Settings.LoadBalancerName}),
	})
	if err != nil || len(out.LoadBalancers) == 0 {
		return nil
	}
	arn := aws.StringValue(out.LoadBalancers[0].LoadBalancerArn)

	if _, err := s.cfg.ELB.DeleteLoadBalancerWithContext(ctx, &elbv2.DeleteLoadBalancerInput{
		LoadBalancerArn: aws.String(arn),
	}); err != nil {
		return err
	}

	if err := s.cfg.ELB.WaitUntilLoadBalancersDeletedWithContext(ctx, &elbv2.DescribeLoadBalancersInput{
		LoadBalancerArns: aws.StringSlice([]string{arn}),
	}); err != nil {
		return err
	}
	s.cfg.Sleep(ctx, lbSettleDelay)
	return nil
}

func (s *Stack) deleteTargetGroup(ctx context.Context) error {
	out, err := s.cfg.ELB.DescribeTargetGroupsWithContext(ctx, &elbv2.DescribeTargetGroupsInput{
		Names: aws.StringSlice([]string{s.cfg.Settings.TargetGroupName}),
	})
	if err != nil || len(out.TargetGroups) == 0 {
		return nil
	}
	_, err = s.cfg.ELB.DeleteTargetGroupWithContext(ctx, &elbv2.DeleteTargetGroupInput{
		TargetGroupArn: out.TargetGroups[0].TargetGroupArn,
	})
	return err
}

// terminateTaggedInstances sweeps instances the project launched outside the
// group, the load generator included.
func (s *Stack) terminateTaggedInstances(ctx context.Context) error {
	describe := &ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("tag:" + provision.ProjectTagKey),
				Values: aws.StringSlice([]string{provision.ProjectTagValue}),
			},
			{
				Name:   aws.String("instance-state-name"),
				Values: aws.StringSlice([]string{ec2.InstanceStateNameRunning, ec2.InstanceStateNamePending}),
			},
		},
	}
	out, err := s.cfg.EC2.DescribeInstancesWithContext(ctx, describe)
	if err != nil {
		return err
	}

	var ids []string
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			ids = append(ids, aws.StringValue(instance.InstanceId))
		}
	}
	if len(ids) == 0 {
		return nil
	}

	logger.Infof("Terminating instances: %v", ids)
	if _, err := s.cfg.EC2.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: aws.StringSlice(ids),
	}); err != nil {
		return err
	}
	return s.cfg.EC2.WaitUntilInstanceTerminatedWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: aws.StringSlice(ids),
	})
}

func (s *Stack) deleteAlarms(ctx context.Context) error {
	_, err := s.cfg.CloudWatch.DeleteAlarmsWithContext(ctx, &cloudwatch.DeleteAlarmsInput{
		AlarmNames: aws.StringSlice([]string{ScaleOutAlarmName, ScaleInAlarmName}),
	})
	return err
}
