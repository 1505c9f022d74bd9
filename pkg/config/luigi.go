package config

import (
	"bytes"
	"fmt"
	"path"

	"gopkg.in/ini.v1"
)

// DefaultSparkMaster is used when worker_env.spark_master is empty.
const DefaultSparkMaster = "yarn-client"

// GenerateLuigiConfig renders the luigi client configuration the workers
// read through LUIGI_CONFIG_PATH. It is built in memory and never touches
// the local disk.
func GenerateLuigiConfig(c *Config) ([]byte, error) {
	master := c.WorkerEnv.SparkMaster
	if master == "" {
		master = DefaultSparkMaster
	}

	f := ini.Empty()
	sections := []struct {
		name string
		keys [][2]string
	}{
		{"core", [][2]string{
			{"logging_conf_file", path.Join(c.WorkerEnv.EggoHome, "conf", "luigi", "luigi_logging.cfg")},
		}},
		{"hadoop", [][2]string{
			{"command", path.Join(c.WorkerEnv.HadoopHome, "bin", "hadoop")},
		}},
		{"spark", [][2]string{
			{"spark-submit", path.Join(c.WorkerEnv.SparkHome, "bin", "spark-submit")},
			{"master", master},
		}},
	}
	for _, s := range sections {
		sec, err := f.NewSection(s.name)
		if err != nil {
			return nil, fmt.Errorf("luigi config section %s: %w", s.name, err)
		}
		for _, kv := range s.keys {
			if _, err := sec.NewKey(kv[0], kv[1]); err != nil {
				return nil, fmt.Errorf("luigi config key %s.%s: %w", s.name, kv[0], err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render luigi config: %w", err)
	}
	return buf.Bytes(), nil
}
