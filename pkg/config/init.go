package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const configHeader = `# urlimage Configuration File
#
# Every key can be overridden by an environment variable named after its
# path, e.g. URLIMAGE_LOGGING_LEVEL=DEBUG or URLIMAGE_CACHE_TYPE=fs.
#
# Cache backends (cache.type) and their options:
#   memory: bounded by cache.size
#   fs:     options.path, options.dir_mode, options.file_mode
#   badger: options.path or options.in_memory, options.ttl, options.gc_interval
#   s3:     options.bucket, options.region, options.endpoint, options.key_prefix,
#           options.force_path_style, options.access_key_id, options.secret_access_key
#
# Set cache.hot.enabled to keep recently used images in memory in front of
# an fs, badger or s3 backend.

`

// InitConfig writes a default configuration file at the default location
// and returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	return WriteConfig(GetDefaultConfig(), path, force)
}

// WriteConfig writes cfg to path with the explanatory header.
func WriteConfig(cfg *Config, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return writeConfigFile(path, append([]byte(configHeader), data...))
}
