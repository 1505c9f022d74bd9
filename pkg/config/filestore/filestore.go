package filestore

import (
	"fmt"
	"os"
	"strings"

	"github.com/andrej220/eggo/pkg/config/configstore"
	"github.com/spf13/viper"
)

var _ configstore.ConfigStore = (*FileStore)(nil)

// EnvPrefix is prepended to environment overrides, e.g.
// EGGO_SPARK_EC2_NUM_SLAVES overrides spark_ec2.num_slaves.
const EnvPrefix = "EGGO"

// FileStore reads an INI configuration file through viper.
type FileStore struct {
	Path string
	// Keys lists the dotted section.key names that may be overridden
	// from the environment. viper only consults the environment for
	// keys it already knows about when unmarshalling.
	Keys []string
}

func New(path string, keys ...string) *FileStore {
	return &FileStore{Path: path, Keys: keys}
}

func (f *FileStore) Load(out any) error {
	if out == nil {
		return fmt.Errorf("Load: output parameter must not be nil")
	}

	info, err := os.Stat(f.Path)
	if err != nil {
		return fmt.Errorf("Load: failed to read file %s: %w", f.Path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("Load: config file %s is empty", f.Path)
	}

	v := viper.New()
	v.SetConfigFile(f.Path)
	v.SetConfigType("ini")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range f.Keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("Load: failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("Load: failed to parse INI in %s: %w", f.Path, err)
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("Load: failed to decode %s: %w", f.Path, err)
	}

	return nil
}
