package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/elbv2"

	"github.com/OldStager01/vm-scaling/internal/infra"
	"github.com/OldStager01/vm-scaling/internal/loadgen"
	"github.com/OldStager01/vm-scaling/internal/logger"
	"github.com/OldStager01/vm-scaling/internal/provision"
	"github.com/OldStager01/vm-scaling/internal/resilience"
	"github.com/OldStager01/vm-scaling/pkg/config"
	"github.com/OldStager01/vm-scaling/pkg/models"
)

const (
	warmupPollInterval = 10 * time.Second
	testPollInterval   = 20 * time.Second

	// Consecutive completion-check failures tolerated before the run is
	// declared dead instead of polled forever.
	pollFailureBudget = 10
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "configs/auto-scaling.json", "path to config file")
	mode := flag.String("mode", "development", "log format mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateAutoScaling(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Setup(cfg.LogLevel, *mode)
	logger.Infof("Starting auto-scaling run in %s", cfg.Region)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsSession, err := awssession.NewSession(aws.NewConfig().WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("creating AWS session: %w", err)
	}
	ec2Client := ec2.New(awsSession)

	vpcID, err := infra.DefaultVPC(ctx, ec2Client)
	if err != nil {
		return err
	}
	subnets, err := infra.SubnetIDs(ctx, ec2Client, vpcID)
	if err != nil {
		return err
	}
	logger.Infof("Using VPC %s with %d subnets", vpcID, len(subnets))

	now := time.Now().Unix()
	lgSG, err := provision.CreateSecurityGroup(ctx, ec2Client,
		fmt.Sprintf("vm-scaling-lg-%d", now), "load generator", vpcID, 80, 22)
	if err != nil {
		return err
	}
	webSG, err := provision.CreateSecurityGroup(ctx, ec2Client,
		fmt.Sprintf("vm-scaling-web-%d", now), "web service and load balancer", vpcID, 80)
	if err != nil {
		return err
	}
	logger.Infof("Security groups created: lg=%s web=%s", lgSG, webSG)

	stack := infra.NewStack(infra.StackConfig{
		EC2:                ec2Client,
		ELB:                elbv2.New(awsSession),
		AutoScaling:        autoscaling.New(awsSession),
		CloudWatch:         cloudwatch.New(awsSession),
		Settings:           cfg.AutoScaling,
		WebServiceAMI:      cfg.WebServiceAMI,
		InstanceType:       cfg.InstanceType,
		VPCID:              vpcID,
		Subnets:            subnets,
		WebSecurityGroupID: webSG,
	})

	// Everything below is undone on every exit path: the stack first (it owns
	// the instances), the security groups once nothing references them.
	defer func() {
		teardownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
		defer cancel()
		if err := stack.Teardown(teardownCtx); err != nil {
			logger.Errorf("Teardown finished with errors: %v", err)
		}
		for _, sg := range []string{lgSG, webSG} {
			if err := provision.DeleteSecurityGroup(teardownCtx, ec2Client, sg); err != nil {
				logger.Errorf("Deleting security group %s: %v", sg, err)
			}
		}
	}()

	logger.Info("Launching load generator")
	provisioner := provision.NewEC2Provisioner(ec2Client, provision.EC2Config{
		InstanceType:    cfg.InstanceType,
		SecurityGroupID: lgSG,
	})
	loadGen, err := provisioner.Create(ctx, cfg.LoadGeneratorAMI)
	if err != nil {
		return err
	}
	if !loadGen.HasAddress() {
		return fmt.Errorf("load generator %s has no public address", loadGen.ID)
	}
	logger.Infof("Load generator running: id=%s dns=%s", loadGen.ID, loadGen.Address)

	if err := stack.Build(ctx); err != nil {
		return err
	}
	logger.Infof("Stack ready, load balancer at %s", stack.LoadBalancerDNS())

	client := loadgen.NewClient(loadgen.Config{
		DNS:  loadGen.Address,
		Sink: loadgen.FileSink{Dir: cfg.Scaling.LogDir},
	})
	monitor := loadgen.NewResilientMonitor(loadgen.ResilientMonitorConfig{
		Monitor:     client,
		MaxFailures: pollFailureBudget,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warnf("Circuit %s: %s -> %s", name, from, to)
		},
	})

	logger.Info("Starting warmup")
	warmup, err := client.StartTest(ctx, models.ModeWarmup, stack.LoadBalancerDNS())
	if err != nil {
		return fmt.Errorf("starting warmup: %w", err)
	}
	if err := waitForCompletion(ctx, monitor, warmup.LogID, warmupPollInterval); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	logger.WithTest(warmup.LogID).Info("Warmup finished")

	// The warmup usually scaled the group up; shrink back to one instance and
	// wait for the surplus to drain before the measured run.
	logger.Info("Resetting group to a single instance")
	if err := stack.ResetCapacity(ctx, 1); err != nil {
		return fmt.Errorf("resetting capacity: %w", err)
	}

	logger.Info("Starting auto-scaling test")
	test, err := client.StartTest(ctx, models.ModeAutoscaling, stack.LoadBalancerDNS())
	if err != nil {
		return fmt.Errorf("starting test: %w", err)
	}
	if err := waitForCompletion(ctx, monitor, test.LogID, testPollInterval); err != nil {
		return fmt.Errorf("test: %w", err)
	}
	logger.WithTest(test.LogID).Info("Auto-scaling test finished")
	return nil
}

// waitForCompletion polls the log until the finished marker appears. Fetch
// errors are logged and retried until the breaker opens; a load generator
// that stays unreachable aborts the wait instead of spinning forever.
func waitForCompletion(ctx context.Context, monitor *loadgen.ResilientMonitor, logID string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := monitor.Completed(ctx, logID)
		if err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return fmt.Errorf("load generator unreachable: %w", err)
			}
			logger.WithTest(logID).Warnf("Completion check failed: %v", err)
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
