package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/elbv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/vm-scaling/pkg/config"
)

// recorder collects the call names shared by all fakes so ordering across
// services can be asserted.
type recorder struct {
	calls []string
}

func (r *recorder) record(name string) {
	r.calls = append(r.calls, name)
}

type fakeEC2 struct {
	rec *recorder

	createLTErr error
	instanceIDs []string
	describeErr error
	terminated  []string
}

func (f *fakeEC2) DescribeVpcsWithContext(_ aws.Context, _ *ec2.DescribeVpcsInput, _ ...request.Option) (*ec2.DescribeVpcsOutput, error) {
	f.rec.record("DescribeVpcs")
	return &ec2.DescribeVpcsOutput{Vpcs: []*ec2.Vpc{{VpcId: aws.String("vpc-default")}}}, nil
}

func (f *fakeEC2) DescribeSubnetsWithContext(_ aws.Context, _ *ec2.DescribeSubnetsInput, _ ...request.Option) (*ec2.DescribeSubnetsOutput, error) {
	f.rec.record("DescribeSubnets")
	return &ec2.DescribeSubnetsOutput{Subnets: []*ec2.Subnet{
		{SubnetId: aws.String("subnet-a")},
		{SubnetId: aws.String("subnet-b")},
	}}, nil
}

func (f *fakeEC2) CreateLaunchTemplateWithContext(_ aws.Context, in *ec2.CreateLaunchTemplateInput, _ ...request.Option) (*ec2.CreateLaunchTemplateOutput, error) {
	f.rec.record("CreateLaunchTemplate")
	if f.createLTErr != nil {
		return nil, f.createLTErr
	}
	return &ec2.CreateLaunchTemplateOutput{}, nil
}

func (f *fakeEC2) DeleteLaunchTemplateWithContext(_ aws.Context, _ *ec2.DeleteLaunchTemplateInput, _ ...request.Option) (*ec2.DeleteLaunchTemplateOutput, error) {
	f.rec.record("DeleteLaunchTemplate")
	return &ec2.DeleteLaunchTemplateOutput{}, nil
}

func (f *fakeEC2) DescribeInstancesWithContext(_ aws.Context, _ *ec2.DescribeInstancesInput, _ ...request.Option) (*ec2.DescribeInstancesOutput, error) {
	f.rec.record("DescribeInstances")
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	instances := make([]*ec2.Instance, 0, len(f.instanceIDs))
	for _, id := range f.instanceIDs {
		instances = append(instances, &ec2.Instance{InstanceId: aws.String(id)})
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []*ec2.Reservation{{Instances: instances}},
	}, nil
}

func (f *fakeEC2) TerminateInstancesWithContext(_ aws.Context, in *ec2.TerminateInstancesInput, _ ...request.Option) (*ec2.TerminateInstancesOutput, error) {
	f.rec.record("TerminateInstances")
	f.terminated = append(f.terminated, aws.StringValueSlice(in.InstanceIds)...)
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) WaitUntilInstanceTerminatedWithContext(_ aws.Context, _ *ec2.DescribeInstancesInput, _ ...request.WaiterOption) error {
	f.rec.record("WaitInstanceTerminated")
	return nil
}

type fakeELB struct {
	rec *recorder

	createTGErr error
	lbExists    bool
	tgExists    bool

	listenerInput *elbv2.CreateListenerInput
}

func (f *fakeELB) CreateTargetGroupWithContext(_ aws.Context, in *elbv2.CreateTargetGroupInput, _ ...request.Option) (*elbv2.CreateTargetGroupOutput, error) {
	f.rec.record("CreateTargetGroup")
	if f.createTGErr != nil {
		return nil, f.createTGErr
	}
	f.tgExists = true
	return &elbv2.CreateTargetGroupOutput{TargetGroups: []*elbv2.TargetGroup{{
		TargetGroupArn: aws.String("arn:tg/" + aws.StringValue(in.Name)),
	}}}, nil
}

func (f *fakeELB) DeleteTargetGroupWithContext(_ aws.Context, _ *elbv2.DeleteTargetGroupInput, _ ...request.Option) (*elbv2.DeleteTargetGroupOutput, error) {
	f.rec.record("DeleteTargetGroup")
	f.tgExists = false
	return &elbv2.DeleteTargetGroupOutput{}, nil
}

func (f *fakeELB) DescribeTargetGroupsWithContext(_ aws.Context, in *elbv2.DescribeTargetGroupsInput, _ ...request.Option) (*elbv2.DescribeTargetGroupsOutput, error) {
	f.rec.record("DescribeTargetGroups")
	if !f.tgExists {
		return &elbv2.DescribeTargetGroupsOutput{}, nil
	}
	return &elbv2.DescribeTargetGroupsOutput{TargetGroups: []*elbv2.TargetGroup{{
		TargetGroupArn: aws.String("arn:tg/" + aws.StringValue(in.Names[0])),
	}}}, nil
}

func (f *fakeELB) CreateLoadBalancerWithContext(_ aws.Context, in *elbv2.CreateLoadBalancerInput, _ ...request.Option) (*elbv2.CreateLoadBalancerOutput, error) {
	f.rec.record("CreateLoadBalancer")
	f.lbExists = true
	return &elbv2.CreateLoadBalancerOutput{LoadBalancers: []*elbv2.LoadBalancer{{
		LoadBalancerArn: aws.String("arn:lb/" + aws.StringValue(in.Name)),
		DNSName:         aws.String("lb.example.com"),
	}}}, nil
}

func (f *fakeELB) DeleteLoadBalancerWithContext(_ aws.Context, _ *elbv2.DeleteLoadBalancerInput, _ ...request.Option) (*elbv2.DeleteLoadBalancerOutput, error) {
	f.rec.record("DeleteLoadBalancer")
	f.lbExists = false
	return &elbv2.DeleteLoadBalancerOutput{}, nil
}

func (f *fakeELB) DescribeLoadBalancersWithContext(_ aws.Context, in *elbv2.DescribeLoadBalancersInput, _ ...request.Option) (*elbv2.DescribeLoadBalancersOutput, error) {
	f.rec.record("DescribeLoadBalancers")
	if !f.lbExists {
		return &elbv2.DescribeLoadBalancersOutput{}, nil
	}
	name := "lb"
	if len(in.Names) > 0 {
		name = aws.StringValue(in.Names[0])
	}
	return &elbv2.DescribeLoadBalancersOutput{LoadBalancers: []*elbv2.LoadBalancer{{
		LoadBalancerArn: aws.String("arn:lb/" + name),
	}}}, nil
}

func (f *fakeELB) CreateListenerWithContext(_ aws.Context, in *elbv2.CreateListenerInput, _ ...request.Option) (*elbv2.CreateListenerOutput, error) {
	f.rec.record("CreateListener")
	f.listenerInput = in
	return &elbv2.CreateListenerOutput{}, nil
}

func (f *fakeELB) WaitUntilLoadBalancerAvailableWithContext(_ aws.Context, _ *elbv2.DescribeLoadBalancersInput, _ ...request.WaiterOption) error {
	f.rec.record("WaitLoadBalancerAvailable")
	return nil
}

func (f *fakeELB) WaitUntilLoadBalancersDeletedWithContext(_ aws.Context, _ *elbv2.DescribeLoadBalancersInput, _ ...request.WaiterOption) error {
	f.rec.record("WaitLoadBalancersDeleted")
	return nil
}

type fakeASG struct {
	rec *recorder

	deleteErr error
	// groupStates is consumed one entry per DescribeAutoScalingGroups call;
	// the last entry repeats.
	groupStates []*autoscaling.Group

	createInput  *autoscaling.CreateAutoScalingGroupInput
	updateInput  *autoscaling.UpdateAutoScalingGroupInput
	policyInputs []*autoscaling.PutScalingPolicyInput
	describes    int
}

func (f *fakeASG) CreateAutoScalingGroupWithContext(_ aws.Context, in *autoscaling.CreateAutoScalingGroupInput, _ ...request.Option) (*autoscaling.CreateAutoScalingGroupOutput, error) {
	f.rec.record("CreateAutoScalingGroup")
	f.createInput = in
	return &autoscaling.CreateAutoScalingGroupOutput{}, nil
}

func (f *fakeASG) UpdateAutoScalingGroupWithContext(_ aws.Context, in *autoscaling.UpdateAutoScalingGroupInput, _ ...request.Option) (*autoscaling.UpdateAutoScalingGroupOutput, error) {
	f.rec.record("UpdateAutoScalingGroup")
	f.updateInput = in
	return &autoscaling.UpdateAutoScalingGroupOutput{}, nil
}

func (f *fakeASG) DeleteAutoScalingGroupWithContext(_ aws.Context, _ *autoscaling.DeleteAutoScalingGroupInput, _ ...request.Option) (*autoscaling.DeleteAutoScalingGroupOutput, error) {
	f.rec.record("DeleteAutoScalingGroup")
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &autoscaling.DeleteAutoScalingGroupOutput{}, nil
}

func (f *fakeASG) DescribeAutoScalingGroupsWithContext(_ aws.Context, _ *autoscaling.DescribeAutoScalingGroupsInput, _ ...request.Option) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	f.rec.record("DescribeAutoScalingGroups")
	f.describes++
	if len(f.groupStates) == 0 {
		return &autoscaling.DescribeAutoScalingGroupsOutput{}, nil
	}
	state := f.groupStates[0]
	if len(f.groupStates) > 1 {
		f.groupStates = f.groupStates[1:]
	}
	if state == nil {
		return &autoscaling.DescribeAutoScalingGroupsOutput{}, nil
	}
	return &autoscaling.DescribeAutoScalingGroupsOutput{
		AutoScalingGroups: []*autoscaling.Group{state},
	}, nil
}

func (f *fakeASG) PutScalingPolicyWithContext(_ aws.Context, in *autoscaling.PutScalingPolicyInput, _ ...request.Option) (*autoscaling.PutScalingPolicyOutput, error) {
	f.rec.record("PutScalingPolicy")
	f.policyInputs = append(f.policyInputs, in)
	return &autoscaling.PutScalingPolicyOutput{
		PolicyARN: aws.String("arn:policy/" + aws.StringValue(in.PolicyName)),
	}, nil
}

type fakeCloudWatch struct {
	rec *recorder

	deleteErr   error
	alarmInputs []*cloudwatch.PutMetricAlarmInput
}

func (f *fakeCloudWatch) PutMetricAlarmWithContext(_ aws.Context, in *cloudwatch.PutMetricAlarmInput, _ ...request.Option) (*cloudwatch.PutMetricAlarmOutput, error) {
	f.rec.record("PutMetricAlarm")
	f.alarmInputs = append(f.alarmInputs, in)
	return &cloudwatch.PutMetricAlarmOutput{}, nil
}

func (f *fakeCloudWatch) DeleteAlarmsWithContext(_ aws.Context, _ *cloudwatch.DeleteAlarmsInput, _ ...request.Option) (*cloudwatch.DeleteAlarmsOutput, error) {
	f.rec.record("DeleteAlarms")
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &cloudwatch.DeleteAlarmsOutput{}, nil
}

func testSettings() config.AutoScalingConfig {
	return config.AutoScalingConfig{
		LaunchTemplateName:        "vm-scaling-lt",
		TargetGroupName:           "vm-scaling-tg",
		LoadBalancerName:          "vm-scaling-lb",
		GroupName:                 "vm-scaling-asg",
		MinSize:                   1,
		MaxSize:                   2,
		DefaultCooldown:           60,
		HealthCheckGracePeriod:    60,
		ScaleOutAdjustment:        1,
		ScaleInAdjustment:         -1,
		ScaleOutCooldown:          60,
		ScaleInCooldown:           60,
		AlarmPeriod:               60,
		ScaleOutEvaluationPeriods: 1,
		ScaleInEvaluationPeriods:  1,
		CPUUpperThreshold:         70,
		CPULowerThreshold:         20,
	}
}

type stackFixture struct {
	rec   *recorder
	ec2   *fakeEC2
	elb   *fakeELB
	asg   *fakeASG
	cw    *fakeCloudWatch
	stack *Stack
}

func newStackFixture() *stackFixture {
	rec := &recorder{}
	f := &stackFixture{
		rec: rec,
		ec2: &fakeEC2{rec: rec},
		elb: &fakeELB{rec: rec},
		asg: &fakeASG{rec: rec},
		cw:  &fakeCloudWatch{rec: rec},
	}
	f.stack = NewStack(StackConfig{
		EC2:                f.ec2,
		ELB:                f.elb,
		AutoScaling:        f.asg,
		CloudWatch:         f.cw,
		Settings:           testSettings(),
		WebServiceAMI:      "ami-ws",
		InstanceType:       "t2.micro",
		VPCID:              "vpc-default",
		Subnets:            []string{"subnet-a", "subnet-b"},
		WebSecurityGroupID: "sg-web",
		PollInterval:       time.Millisecond,
		CapacityTimeout:    50 * time.Millisecond,
		Sleep:              func(ctx context.Context, d time.Duration) {},
	})
	return f
}

func TestBuild_CreatesResourcesInDependencyOrder(t *testing.T) {
	f := newStackFixture()

	require.NoError(t, f.stack.Build(context.Background()))

	assert.Equal(t, []string{
		"CreateLaunchTemplate",
		"CreateTargetGroup",
		"CreateLoadBalancer",
		"WaitLoadBalancerAvailable",
		"CreateListener",
		"CreateAutoScalingGroup",
		"PutScalingPolicy",
		"PutScalingPolicy",
		"PutMetricAlarm",
		"PutMetricAlarm",
	}, f.rec.calls)

	assert.Equal(t, "lb.example.com", f.stack.LoadBalancerDNS())

	// The listener forwards to the target group that was just created.
	require.NotNil(t, f.elb.listenerInput)
	assert.Equal(t, "arn:tg/vm-scaling-tg", aws.StringValue(f.elb.listenerInput.DefaultActions[0].TargetGroupArn))

	// The group starts at one instance and references template and group.
	require.NotNil(t, f.asg.createInput)
	assert.Equal(t, int64(1), aws.Int64Value(f.asg.createInput.DesiredCapacity))
	assert.Equal(t, "vm-scaling-lt", aws.StringValue(f.asg.createInput.LaunchTemplate.LaunchTemplateName))
	assert.Equal(t, "subnet-a,subnet-b", aws.StringValue(f.asg.createInput.VPCZoneIdentifier))

	// Each alarm triggers its own policy.
	require.Len(t, f.cw.alarmInputs, 2)
	assert.Equal(t, "arn:policy/ScaleOutPolicy", aws.StringValue(f.cw.alarmInputs[0].AlarmActions[0]))
	assert.Equal(t, float64(70), aws.Float64Value(f.cw.alarmInputs[0].Threshold))
	assert.Equal(t, "arn:policy/ScaleInPolicy", aws.StringValue(f.cw.alarmInputs[1].AlarmActions[0]))
	assert.Equal(t, float64(20), aws.Float64Value(f.cw.alarmInputs[1].Threshold))
}

func TestBuild_AbortsOnFirstFailure(t *testing.T) {
	f := newStackFixture()
	f.elb.createTGErr = errors.New("DuplicateTargetGroupName")

	err := f.stack.Build(context.Background())
	require.Error(t, err)

	assert.Equal(t, []string{"CreateLaunchTemplate", "CreateTargetGroup"}, f.rec.calls)
}

func TestTeardown_DeletesEverythingInReverseOrder(t *testing.T) {
	f := newStackFixture()
	require.NoError(t, f.stack.Build(context.Background()))
	f.rec.calls = nil
	f.ec2.instanceIDs = []string{"i-lg"}

	require.NoError(t, f.stack.Teardown(context.Background()))

	assert.Equal(t, []string{
		"DeleteAutoScalingGroup",
		"DescribeAutoScalingGroups",
		"DeleteLaunchTemplate",
		"DescribeLoadBalancers",
		"DeleteLoadBalancer",
		"WaitLoadBalancersDeleted",
		"DescribeTargetGroups",
		"DeleteTargetGroup",
		"DescribeInstances",
		"TerminateInstances",
		"WaitInstanceTerminated",
		"DeleteAlarms",
	}, f.rec.calls)
	assert.Equal(t, []string{"i-lg"}, f.ec2.terminated)
}

func TestTeardown_ContinuesPastFailures(t *testing.T) {
	f := newStackFixture()
	require.NoError(t, f.stack.Build(context.Background()))
	f.rec.calls = nil
	f.asg.deleteErr = errors.New("ScalingActivityInProgress")
	f.ec2.describeErr = errors.New("throttled")

	err := f.stack.Teardown(context.Background())
	require.Error(t, err)

	// The alarms at the tail of the sequence were still deleted.
	assert.Contains(t, f.rec.calls, "DeleteAlarms")
	assert.Contains(t, f.rec.calls, "DeleteLaunchTemplate")
}

func TestTeardown_SecondCallIsNoOp(t *testing.T) {
	f := newStackFixture()
	require.NoError(t, f.stack.Build(context.Background()))

	require.NoError(t, f.stack.Teardown(context.Background()))
	calls := len(f.rec.calls)

	require.NoError(t, f.stack.Teardown(context.Background()))
	assert.Len(t, f.rec.calls, calls)
}

func groupWithStates(states ...string) *autoscaling.Group {
	instances := make([]*autoscaling.Instance, 0, len(states))
	for _, s := range states {
		instances = append(instances, &autoscaling.Instance{LifecycleState: aws.String(s)})
	}
	return &autoscaling.Group{Instances: instances}
}

func TestResetCapacity_WaitsForSurplusToDrain(t *testing.T) {
	f := newStackFixture()
	// Two instances from the warmup; one drains over successive polls.
	f.asg.groupStates = []*autoscaling.Group{
		groupWithStates("InService", "InService"),
		groupWithStates("InService", "Terminating"),
		groupWithStates("InService"),
	}

	require.NoError(t, f.stack.ResetCapacity(context.Background(), 1))

	require.NotNil(t, f.asg.updateInput)
	assert.Equal(t, int64(1), aws.Int64Value(f.asg.updateInput.DesiredCapacity))
	assert.Equal(t, 3, f.asg.describes)
}

func TestWaitForCapacity_TimesOut(t *testing.T) {
	f := newStackFixture()
	f.asg.groupStates = []*autoscaling.Group{
		groupWithStates("InService", "InService"),
	}

	err := f.stack.WaitForCapacity(context.Background(), 1)
	assert.ErrorIs(t, err, ErrCapacityTimeout)
}

func TestDefaultVPCAndSubnets(t *testing.T) {
	f := newStackFixture()

	vpcID, err := DefaultVPC(context.Background(), f.ec2)
	require.NoError(t, err)
	assert.Equal(t, "vpc-default", vpcID)

	subnets, err := SubnetIDs(context.Background(), f.ec2, vpcID)
	require.NoError(t, err)
	assert.Equal(t, []string{"subnet-a", "subnet-b"}, subnets)
}
