package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/OldStager01/vm-scaling/internal/logger"
	"github.com/OldStager01/vm-scaling/pkg/models"
)

// InstanceAPI is the slice of the EC2 control plane the provisioner uses.
// *ec2.EC2 satisfies it; tests substitute fakes.
type InstanceAPI interface {
	RunInstancesWithContext(aws.Context, *ec2.RunInstancesInput, ...request.Option) (*ec2.Reservation, error)
	DescribeInstancesWithContext(aws.Context, *ec2.DescribeInstancesInput, ...request.Option) (*ec2.DescribeInstancesOutput, error)
	TerminateInstancesWithContext(aws.Context, *ec2.TerminateInstancesInput, ...request.Option) (*ec2.TerminateInstancesOutput, error)
	WaitUntilInstanceRunningWithContext(aws.Context, *ec2.DescribeInstancesInput, ...request.WaiterOption) error
	WaitUntilInstanceTerminatedWithContext(aws.Context, *ec2.DescribeInstancesInput, ...request.WaiterOption) error
}

type EC2Config struct {
	InstanceType    string
	SecurityGroupID string
}

// EC2Provisioner launches tagged instances into a shared security group and
// waits for the running state before reporting back.
type EC2Provisioner struct {
	api             InstanceAPI
	instanceType    string
	securityGroupID string
}

func NewEC2Provisioner(api InstanceAPI, cfg EC2Config) *EC2Provisioner {
	return &EC2Provisioner{
		api:             api,
		instanceType:    cfg.InstanceType,
		securityGroupID: cfg.SecurityGroupID,
	}
}

// Create launches one tagged instance and waits for the running state. If
// launching itself fails the worker is nil, but once an instance id exists
// every later failure returns that partial worker alongside the error so the
// caller can still track and terminate it.
func (p *EC2Provisioner) Create(ctx context.Context, imageID string) (*models.Worker, error) {
	reservation, err := p.api.RunInstancesWithContext(ctx, &ec2.RunInstancesInput{
		ImageId:          aws.String(imageID),
		InstanceType:     aws.String(p.instanceType),
		MinCount:         aws.Int64(1),
		MaxCount:         aws.Int64(1),
		SecurityGroupIds: []*string{aws.String(p.securityGroupID)},
		TagSpecifications: []*ec2.TagSpecification{{
			ResourceType: aws.String(ec2.ResourceTypeInstance),
			Tags: []*ec2.Tag{{
				Key:   aws.String(ProjectTagKey),
				Value: aws.String(ProjectTagValue),
			}},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisionFailed, err)
	}
	if len(reservation.Instances) == 0 {
		return nil, ErrNoInstance
	}

	id := aws.StringValue(reservation.Instances[0].InstanceId)
	logger.WithWorker(id).Info("Instance launching, waiting for running state")

	describeByID := &ec2.DescribeInstancesInput{
		InstanceIds: []*string{aws.String(id)},
	}
	if err := p.api.WaitUntilInstanceRunningWithContext(ctx, describeByID); err != nil {
		return models.NewWorker(id, ""), fmt.Errorf("%w: waiting for %s to run: %v", ErrProvisionFailed, id, err)
	}

	// Re-describe: the public DNS name only shows up once the instance runs.
	out, err := p.api.DescribeInstancesWithContext(ctx, describeByID)
	if err != nil {
		return models.NewWorker(id, ""), fmt.Errorf("%w: describing %s: %v", ErrProvisionFailed, id, err)
	}

	address := ""
	if len(out.Reservations) > 0 && len(out.Reservations[0].Instances) > 0 {
		address = aws.StringValue(out.Reservations[0].Instances[0].PublicDnsName)
	}

	logger.WithWorker(id).Infof("Instance running, dns=%q", address)
	return models.NewWorker(id, address), nil
}

func (p *EC2Provisioner) Terminate(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := p.api.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: aws.StringSlice(ids),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTerminateFailed, err)
	}

	logger.Infof("Terminating instances: %v", ids)
	return nil
}

// WaitTerminated blocks until the given instances are gone. Used before
// deleting resources the instances still reference, like security groups.
func (p *EC2Provisioner) WaitTerminated(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return p.api.WaitUntilInstanceTerminatedWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: aws.StringSlice(ids),
	})
}
