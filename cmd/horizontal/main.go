package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/OldStager01/vm-scaling/internal/controller"
	"github.com/OldStager01/vm-scaling/internal/events"
	"github.com/OldStager01/vm-scaling/internal/infra"
	"github.com/OldStager01/vm-scaling/internal/loadgen"
	"github.com/OldStager01/vm-scaling/internal/logger"
	"github.com/OldStager01/vm-scaling/internal/probe"
	"github.com/OldStager01/vm-scaling/internal/provision"
	"github.com/OldStager01/vm-scaling/internal/resilience"
	"github.com/OldStager01/vm-scaling/pkg/config"
	"github.com/OldStager01/vm-scaling/pkg/models"
)

// pollFailureBudget is how many consecutive failed polls against the load
// generator are tolerated before the run is aborted.
const pollFailureBudget = 10

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "configs/horizontal-scaling.json", "path to config file")
	mode := flag.String("mode", "development", "log format mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Setup(cfg.LogLevel, *mode)
	logger.Infof("Starting horizontal-scaling run in %s", cfg.Region)

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

	sgName := fmt.Sprintf("vm-scaling-hs-%d", time.Now().Unix())
	sgID, err := provision.CreateSecurityGroup(ctx, ec2Client, sgName, "horizontal scaling", vpcID, 80)
	if err != nil {
		return err
	}
	logger.Infof("Security group created: %s", sgID)

	provisioner := provision.NewEC2Provisioner(ec2Client, provision.EC2Config{
		InstanceType:    cfg.InstanceType,
		SecurityGroupID: sgID,
	})
	tracker := provision.NewTracker()
	tracker.OnTeardown("security group", func(ctx context.Context) error {
		return provision.DeleteSecurityGroup(ctx, ec2Client, sgID)
	})
	// Registered after the group delete so it runs before it: the group can
	// only go once its instances are fully gone.
	tracker.OnTeardown("instance shutdown", func(ctx context.Context) error {
		return provisioner.WaitTerminated(ctx, tracker.IDs())
	})

	// Teardown runs on every exit path, including failures below. Use a fresh
	// context so a cancelled run still cleans up.
	defer func() {
		teardownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := tracker.Teardown(teardownCtx, provisioner); err != nil {
			logger.Errorf("Teardown finished with errors: %v", err)
		}
	}()

	logger.Info("Launching load generator")
	loadGen, err := provisioner.Create(ctx, cfg.LoadGeneratorAMI)
	if loadGen != nil {
		tracker.Track(loadGen.ID)
	}
	if err != nil {
		return err
	}
	if !loadGen.HasAddress() {
		return fmt.Errorf("load generator %s has no public address", loadGen.ID)
	}
	logger.Infof("Load generator running: id=%s dns=%s", loadGen.ID, loadGen.Address)

	logger.Info("Launching first web service instance")
	firstWorker, err := provisioner.Create(ctx, cfg.WebServiceAMI)
	if firstWorker != nil {
		tracker.Track(firstWorker.ID)
	}
	if err != nil {
		return err
	}
	if !firstWorker.HasAddress() {
		return fmt.Errorf("web service %s has no public address", firstWorker.ID)
	}
	logger.Infof("Web service running: id=%s dns=%s", firstWorker.ID, firstWorker.Address)

	client := loadgen.NewClient(loadgen.Config{
		DNS:  loadGen.Address,
		Sink: loadgen.FileSink{Dir: cfg.Scaling.LogDir},
	})

	session, err := client.StartTest(ctx, models.ModeHorizontal, firstWorker.Address)
	if err != nil {
		return fmt.Errorf("starting test: %w", err)
	}
	logger.WithTest(session.LogID).Info("Test accepted by load generator")

	bus := events.NewEventBus(64)
	defer bus.Close()
	go logEvents(bus.SubscribeAll())

	prober := probe.New(probe.Config{
		Timeout:     cfg.Probe.Timeout,
		Interval:    cfg.Probe.Interval,
		MaxAttempts: cfg.Probe.MaxAttempts,
	})

	monitor := loadgen.NewResilientMonitor(loadgen.ResilientMonitorConfig{
		Monitor:     client,
		MaxFailures: pollFailureBudget,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warnf("Circuit %s: %s -> %s", name, from, to)
		},
	})

	scaling := controller.New(controller.Config{
		RPSLowThreshold: cfg.Scaling.RPSLowThreshold,
		Cooldown:        cfg.Scaling.Cooldown,
		PollInterval:    cfg.Scaling.PollInterval,
		WebServiceAMI:   cfg.WebServiceAMI,
		Monitor:         monitor,
		Provisioner:     provisioner,
		Prober:          prober,
		Tracker:         tracker,
		Publisher:       events.NewPublisher(bus),
	})

	if err := scaling.Run(ctx, session); err != nil {
		return fmt.Errorf("scaling run: %w", err)
	}

	if report, err := client.FetchReport(ctx, session.LogID); err == nil {
		logger.Infof("Final report persisted (%d bytes)", len(report))
	}
	logger.Infof("Run complete: %d workers added", scaling.WorkersAdded())
	return nil
}

func logEvents(ch <-chan *models.Event) {
	for event := range ch {
		logger.WithTest(event.TestID).Debugf("[EVENT] %s: %s", event.Type, event.Message)
	}
}
