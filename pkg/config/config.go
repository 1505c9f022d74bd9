// Package config is the read-only view of the eggo configuration file.
//
// The file is an INI document with the sections client_env, aws,
// spark_ec2, worker_env, versions and execution. It is loaded once per
// command and copied verbatim to the workers by deploy-config, so the
// same file drives both the local CLI and the remote toolchain.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/andrej220/eggo/pkg/config/configstore"
	"github.com/andrej220/eggo/pkg/config/filestore"
	"github.com/go-playground/validator/v10"
)

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "EGGO_CONFIG"

var ErrNoConfigPath = errors.New(EnvConfigPath + " is not set")

type ClientEnv struct {
	SparkHome string `mapstructure:"spark_home" validate:"required"`
}

type AWS struct {
	AccessKeyID       string `mapstructure:"aws_access_key_id" validate:"required"`
	SecretAccessKey   string `mapstructure:"aws_secret_access_key" validate:"required"`
	EC2KeyPair        string `mapstructure:"ec2_key_pair" validate:"required"`
	EC2PrivateKeyFile string `mapstructure:"ec2_private_key_file" validate:"required"`
}

type SparkEC2 struct {
	User             string `mapstructure:"user" validate:"required"`
	NumSlaves        int    `mapstructure:"num_slaves" validate:"gte=0"`
	InstanceType     string `mapstructure:"instance_type" validate:"required"`
	Region           string `mapstructure:"region" validate:"required"`
	AvailabilityZone string `mapstructure:"availability_zone"`
	StackName        string `mapstructure:"stack_name" validate:"required"`
}

type WorkerEnv struct {
	WorkPath        string `mapstructure:"work_path" validate:"required"`
	EggoHome        string `mapstructure:"eggo_home" validate:"required"`
	EggoConfigPath  string `mapstructure:"eggo_config_path" validate:"required"`
	LuigiConfigPath string `mapstructure:"luigi_config_path" validate:"required"`
	HadoopHome      string `mapstructure:"hadoop_home" validate:"required"`
	SparkHome       string `mapstructure:"spark_home" validate:"required"`
	SparkMaster     string `mapstructure:"spark_master"`
}

type Versions struct {
	Maven      string `mapstructure:"maven" validate:"required"`
	AdamFork   string `mapstructure:"adam_fork" validate:"required"`
	AdamBranch string `mapstructure:"adam_branch" validate:"required"`
	EggoFork   string `mapstructure:"eggo_fork" validate:"required"`
	EggoBranch string `mapstructure:"eggo_branch" validate:"required"`
}

type Execution struct {
	// Context names the section holding region and stack_name for the
	// active backend. Only spark_ec2 is supported.
	Context string `mapstructure:"context" validate:"required,oneof=spark_ec2"`
}

// Config mirrors the sections of the INI file.
type Config struct {
	ClientEnv ClientEnv `mapstructure:"client_env"`
	AWS       AWS       `mapstructure:"aws"`
	SparkEC2  SparkEC2  `mapstructure:"spark_ec2"`
	WorkerEnv WorkerEnv `mapstructure:"worker_env"`
	Versions  Versions  `mapstructure:"versions"`
	Execution Execution `mapstructure:"execution"`

	// Path is the local file the config was loaded from.
	Path string `mapstructure:"-"`
}

// Keys lists every section.key the Config reads.
var Keys = []string{
	"client_env.spark_home",
	"aws.aws_access_key_id", "aws.aws_secret_access_key",
	"aws.ec2_key_pair", "aws.ec2_private_key_file",
	"spark_ec2.user", "spark_ec2.num_slaves", "spark_ec2.instance_type",
	"spark_ec2.region", "spark_ec2.availability_zone", "spark_ec2.stack_name",
	"worker_env.work_path", "worker_env.eggo_home", "worker_env.eggo_config_path",
	"worker_env.luigi_config_path", "worker_env.hadoop_home",
	"worker_env.spark_home", "worker_env.spark_master",
	"versions.maven", "versions.adam_fork", "versions.adam_branch",
	"versions.eggo_fork", "versions.eggo_branch",
	"execution.context",
}

// ConfigError reports a missing or invalid configuration key.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

var validate = validator.New()

func init() {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("mapstructure")
		if name == "-" {
			return ""
		}
		return name
	})
}

// PathFromEnv returns the config path named by EGGO_CONFIG.
func PathFromEnv() (string, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		return "", &ConfigError{Key: EnvConfigPath, Err: ErrNoConfigPath}
	}
	return path, nil
}

// Load reads the INI file at path and validates it.
func Load(path string) (*Config, error) {
	return LoadFrom(filestore.New(path, Keys...), path)
}

// LoadFrom decodes a Config from store and validates it.
func LoadFrom(store configstore.ConfigStore, path string) (*Config, error) {
	var cfg Config
	if err := store.Load(&cfg); err != nil {
		return nil, err
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required keys. The first failing key is reported as a
// *ConfigError; all failures are listed in its message.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigError{Key: "?", Err: err}
	}
	keys := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		keys = append(keys, fieldKey(fe))
	}
	first := verrs[0]
	return &ConfigError{
		Key: keys[0],
		Err: fmt.Errorf("failed %q check (invalid keys: %s)", first.Tag(), strings.Join(keys, ", ")),
	}
}

// fieldKey turns "Config.aws.ec2_key_pair" into "aws.ec2_key_pair".
func fieldKey(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// ExecutionRegion is the region of the section named by execution.context.
func (c *Config) ExecutionRegion() string {
	return c.SparkEC2.Region
}

// ExecutionStackName is the stack name of the section named by execution.context.
func (c *Config) ExecutionStackName() string {
	return c.SparkEC2.StackName
}
