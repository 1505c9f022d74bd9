package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andrej220/eggo/internal/catalog"
	iex "github.com/andrej220/eggo/internal/executor"
	"github.com/andrej220/eggo/internal/lg"
	"github.com/andrej220/eggo/internal/lifecycle"
	"github.com/andrej220/eggo/internal/provision"
	"github.com/andrej220/eggo/pkg/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	ex "github.com/andrej220/eggo/pkg/executor"
)

const SERVICENAME = "eggo"

// connection flags, all optional overrides of the config file
type connFlags struct {
	user      string
	keyFile   string
	warnOnly  bool
	poolSize  int
	dialRetry time.Duration
}

var (
	flags  connFlags
	logCfg *lg.Config
)

var rootCmd = &cobra.Command{
	Use:   SERVICENAME,
	Short: "Provision, configure and drive a short-lived Spark cluster on EC2",
	Long: `eggo launches a Spark cluster with spark-ec2, installs the toolchain on
the master and the slaves, pushes configuration and submits jobs.

The configuration file is read from $` + config.EnvConfigPath + `.
Typical order: provision, deploy-config, setup-master, setup-slaves,
toast <job.json>, teardown.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.user, "user", "u", "", "remote user (default: spark_ec2.user)")
	pf.StringVarP(&flags.keyFile, "key-file", "i", "", "private key file (default: aws.ec2_private_key_file)")
	pf.BoolVarP(&flags.warnOnly, "warn-only", "w", false, "keep going on remaining hosts after a host fails in a sequential run")
	pf.IntVarP(&flags.poolSize, "pool-size", "z", 0, "max hosts run concurrently in parallel actions (0: all)")
	pf.DurationVar(&flags.dialRetry, "dial-retry", ex.DefaultDialRetry, "how long to retry connecting to a host (0: no retry)")
	logCfg = lg.BindFlags(SERVICENAME, pf)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(newCommands()...)
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// app is everything one command invocation needs.
type app struct {
	cfg        *config.Config
	controller *lifecycle.Controller
	logger     lg.Logger
}

func newApp(cmd *cobra.Command) (*app, context.Context, error) {
	logger := lg.New(logCfg).With(
		lg.String("run_id", uuid.NewString()),
		lg.String("command", cmd.Name()))
	ctx := lg.Attach(cmd.Context(), logger)

	path, err := config.PathFromEnv()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	ec := ex.NewExecutionContext(cfg.SparkEC2.User, cfg.AWS.EC2PrivateKeyFile)
	if flags.user != "" {
		ec.User = flags.user
	}
	if flags.keyFile != "" {
		ec.KeyFile = flags.keyFile
	}
	ec.ContinueOnError = flags.warnOnly
	ec.MaxParallel = flags.poolSize
	ec.DialRetry = flags.dialRetry

	var tagger provision.InstanceTagger
	if cmd.Name() == "provision" {
		t, err := provision.NewEC2TaggerFromConfig(ctx, cfg.ExecutionRegion(), cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey)
		if err != nil {
			return nil, nil, err
		}
		tagger = t
	}

	backend := provision.NewSparkEC2(cfg, provision.NewExecRunner(), tagger)
	dialer := iex.NewSSHDialer()
	controller := lifecycle.New(backend, catalog.New(cfg), dialer, dialer, ec)

	return &app{cfg: cfg, controller: controller, logger: logger}, ctx, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}
