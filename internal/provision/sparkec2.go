package provision

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/andrej220/eggo/internal/lg"
	"github.com/andrej220/eggo/pkg/config"
)

// SparkEC2 wraps the spark-ec2 script shipped with the local Spark
// distribution.
type SparkEC2 struct {
	cfg    *config.Config
	runner CommandRunner
	tagger InstanceTagger
}

func NewSparkEC2(cfg *config.Config, runner CommandRunner, tagger InstanceTagger) *SparkEC2 {
	return &SparkEC2{cfg: cfg, runner: runner, tagger: tagger}
}

func (s *SparkEC2) base() []string {
	return []string{
		filepath.Join(s.cfg.ClientEnv.SparkHome, "ec2", "spark-ec2"),
		"-k", s.cfg.AWS.EC2KeyPair,
		"-i", s.cfg.AWS.EC2PrivateKeyFile,
	}
}

// LaunchArgs is the argv of the launch call.
func (s *SparkEC2) LaunchArgs() []string {
	sc := s.cfg.SparkEC2
	argv := append(s.base(),
		"-s", strconv.Itoa(sc.NumSlaves),
		"-t", sc.InstanceType,
		"-r", sc.Region,
	)
	if sc.AvailabilityZone != "" {
		argv = append(argv, "--zone", sc.AvailabilityZone)
	}
	return append(argv, "--copy-aws-credentials", "launch", sc.StackName)
}

func (s *SparkEC2) GetMasterArgs() []string {
	return append(s.base(), "get-master", s.cfg.SparkEC2.StackName)
}

func (s *SparkEC2) DestroyArgs() []string {
	return append(s.base(), "destroy", s.cfg.SparkEC2.StackName)
}

// Launch starts the cluster and then tags every instance launched with
// the configured key pair with the stack name.
func (s *SparkEC2) Launch(ctx context.Context) error {
	if _, err := s.runner.Run(ctx, s.LaunchArgs(), false); err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	if s.tagger == nil {
		return nil
	}
	n, err := s.tagger.TagInstances(ctx, s.cfg.AWS.EC2KeyPair, StackTag, s.cfg.ExecutionStackName())
	if err != nil {
		return fmt.Errorf("tag instances: %w", err)
	}
	lg.FromContext(ctx).Info("tagged instances", lg.Int("count", n), lg.String("stack", s.cfg.ExecutionStackName()))
	return nil
}

// GetMaster returns the raw get-master report.
func (s *SparkEC2) GetMaster(ctx context.Context) (string, error) {
	return s.runner.Run(ctx, s.GetMasterArgs(), true)
}

func (s *SparkEC2) Destroy(ctx context.Context) error {
	if _, err := s.runner.Run(ctx, s.DestroyArgs(), false); err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	return nil
}
