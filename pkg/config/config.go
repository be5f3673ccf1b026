package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/go-delve/buildid/pkg/logflags"
)

const (
	configDir       string = "buildid"
	configDirHidden string = ".buildid"
	configFile      string = "config.yml"

	// DebugFileDirectoriesEnv overrides the debug-file-directories option.
	// Its value is a list of directories separated by filepath.ListSeparator.
	DebugFileDirectoriesEnv = "BUILDID_DEBUG_FILE_DIRECTORIES"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// DebugFileDirectories is the list of directories, searched in order,
	// that contain a .build-id tree of separate debug info files. An empty
	// list means the platform default directory.
	DebugFileDirectories []string `yaml:"debug-file-directories"`
}

// LoadConfig attempts to populate a Config object from the config.yml file,
// creating a default one if it does not exist, and applies the environment
// overrides. Problems are reported on stderr and never fatal.
func LoadConfig() *Config {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return ApplyEnv(&Config{})
	}

	c, err := LoadConfigFrom(fullConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		if err := createDefaultConfig(fullConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
		}
		return ApplyEnv(&Config{})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return ApplyEnv(&Config{})
	}
	return ApplyEnv(c)
}

// LoadConfigFrom reads and decodes the config file at path.
func LoadConfigFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %w", err)
	}
	if logflags.Config() {
		logflags.ConfigLogger().WithField("path", path).Debugf("loaded debug-file-directories %q", c.DebugFileDirectories)
	}
	return &c, nil
}

// ApplyEnv overrides the options of conf that are set in the environment
// and returns conf.
func ApplyEnv(conf *Config) *Config {
	v, ok := os.LookupEnv(DebugFileDirectoriesEnv)
	if !ok {
		return conf
	}
	var dirs []string
	for _, dir := range filepath.SplitList(v) {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	conf.DebugFileDirectories = dirs
	if logflags.Config() {
		logflags.ConfigLogger().Debugf("%s overrides debug-file-directories with %q", DebugFileDirectoriesEnv, dirs)
	}
	return conf
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullConfigFile), 0700); err != nil {
		return err
	}
	return saveConfigTo(conf, fullConfigFile)
}

func saveConfigTo(conf *Config, path string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0600)
}

func createDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create config file: %w", err)
	}
	defer f.Close()
	if err := writeDefaultConfig(f); err != nil {
		return fmt.Errorf("unable to write default configuration: %w", err)
	}
	return nil
}

func writeDefaultConfig(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		`# Configuration file for buildid.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# List of directories searched, in order, for separate debug info files.
# Each directory must contain a .build-id tree, debug files are looked up as
# <directory>/.build-id/<xx>/<rest of the build id>.debug
# When the list is empty only the platform default directory is searched.
# The %s environment variable overrides this option.
# debug-file-directories: ["/usr/lib/debug"]
`, DebugFileDirectoriesEnv)
	return err
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv("XDG_CONFIG_HOME"); configPath != "" {
		return filepath.Join(configPath, configDir, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return filepath.Join(userHomeDir, configDirHidden, file), nil
}
