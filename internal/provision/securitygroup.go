package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/OldStager01/vm-scaling/internal/logger"
)

// SecurityGroupAPI is the slice of the EC2 control plane used for security
// group management. *ec2.EC2 satisfies it.
type SecurityGroupAPI interface {
	CreateSecurityGroupWithContext(aws.Context, *ec2.CreateSecurityGroupInput, ...request.Option) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngressWithContext(aws.Context, *ec2.AuthorizeSecurityGroupIngressInput, ...request.Option) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	DeleteSecurityGroupWithContext(aws.Context, *ec2.DeleteSecurityGroupInput, ...request.Option) (*ec2.DeleteSecurityGroupOutput, error)
}

// CreateSecurityGroup creates a group in the given VPC (empty for the
// account default) and opens the given TCP ports to the world.
func CreateSecurityGroup(ctx context.Context, api SecurityGroupAPI, name, description, vpcID string, ports ...int64) (string, error) {
	input := &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String(description),
	}
	if vpcID != "" {
		input.VpcId = aws.String(vpcID)
	}

	out, err := api.CreateSecurityGroupWithContext(ctx, input)
	if err != nil {
		return "", fmt.Errorf("creating security group %s: %w", name, err)
	}
	groupID := aws.StringValue(out.GroupId)

	for _, port := range ports {
		_, err := api.AuthorizeSecurityGroupIngressWithContext(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId: aws.String(groupID),
			IpPermissions: []*ec2.IpPermission{{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int64(port),
				ToPort:     aws.Int64(port),
				IpRanges:   []*ec2.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			}},
		})
		if err != nil {
			return "", fmt.Errorf("opening port %d on %s: %w", port, groupID, err)
		}
	}

	logger.Infof("Created security group %s (%s)", name, groupID)
	return groupID, nil
}

func DeleteSecurityGroup(ctx context.Context, api SecurityGroupAPI, groupID string) error {
	_, err := api.DeleteSecurityGroupWithContext(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(groupID),
	})
	if err != nil {
		return fmt.Errorf("deleting security group %s: %w", groupID, err)
	}
	logger.Infof("Deleted security group %s", groupID)
	return nil
}
