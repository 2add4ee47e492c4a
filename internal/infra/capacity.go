package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/autoscaling"

	"github.com/OldStager01/vm-scaling/internal/logger"
)

var ErrCapacityTimeout = errors.New("group did not reach desired capacity in time")

const lifecycleInService = "InService"

// ResetCapacity sets the group's desired capacity and waits until exactly
// that many instances are in service and the surplus has drained. The warmup
// run scales the group up, so the main run starts from a known size.
func (s *Stack) ResetCapacity(ctx context.Context, desired int64) error {
	_, err := s.cfg.AutoScaling.UpdateAutoScalingGroupWithContext(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(s.cfg.Settings.GroupName),
		DesiredCapacity:      aws.Int64(desired),
	})
	if err != nil {
		return fmt.Errorf("updating desired capacity: %w", err)
	}
	return s.WaitForCapacity(ctx, desired)
}

// WaitForCapacity polls the group until its instance list settles at the
// desired size with every member in service.
func (s *Stack) WaitForCapacity(ctx context.Context, desired int64) error {
	deadline := time.Now().Add(s.cfg.CapacityTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := s.cfg.AutoScaling.DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
			AutoScalingGroupNames: aws.StringSlice([]string{s.cfg.Settings.GroupName}),
		})
		if err != nil {
			return fmt.Errorf("describing group: %w", err)
		}
		if len(out.AutoScalingGroups) == 0 {
			return fmt.Errorf("group %q not found", s.cfg.Settings.GroupName)
		}

		group := out.AutoScalingGroups[0]
		total := int64(len(group.Instances))
		var inService int64
		for _, instance := range group.Instances {
			if aws.StringValue(instance.LifecycleState) == lifecycleInService {
				inService++
			}
		}

		if total == desired && inService == desired {
			return nil
		}
		logger.Debugf("Group at %d/%d in service (%d total), waiting", inService, desired, total)

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %d/%d in service", ErrCapacityTimeout, inService, desired)
		}
		s.cfg.Sleep(ctx, s.cfg.PollInterval)
	}
}
