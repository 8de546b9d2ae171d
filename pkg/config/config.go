package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir    string = ".kmon"
	configFile   string = "config.yml"
	configDirEnv string = "KMON_CONFIG_DIR"
)

// Defaults used when the configuration file leaves a field unset.
const (
	DefaultPrompt         = "K> "
	DefaultKernBase       = 0xf0000000
	DefaultCacheSize      = 1024
	DefaultTrapFrameColor = 33
)

// SubstitutePathRule describes a rule for substitution of path to source code file.
type SubstitutePathRule struct {
	// Directory path will be substituted if it matches `From`.
	From string
	// Path to which substitution is performed.
	To string
}

// SubstitutePathRules is a slice of source code path substitution rules.
type SubstitutePathRules []SubstitutePathRule

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Prompt printed before every command line.
	Prompt string `yaml:"prompt,omitempty"`
	// KernBase is the virtual address physical memory is mapped at, used
	// by kerninfo and to remap guest-physical core dumps.
	KernBase *uint64 `yaml:"kernbase,omitempty"`
	// SymbolCacheSize is the number of resolved addresses to remember.
	SymbolCacheSize int `yaml:"symbol-cache-size,omitempty"`
	// MaxDepth stops backtraces after that many frames, 0 means no limit.
	MaxDepth int `yaml:"max-depth,omitempty"`
	// Trap frame header color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	TrapFrameColor int `yaml:"trap-frame-color,omitempty"`
	// Source code path substitution rules, applied to file names printed
	// by backtrace.
	SubstitutePath SubstitutePathRules `yaml:"substitute-path"`
}

// GetPrompt returns the configured prompt or the default one.
func (c *Config) GetPrompt() string {
	if c == nil || c.Prompt == "" {
		return DefaultPrompt
	}
	return c.Prompt
}

// GetKernBase returns the configured kernel base or the default one.
func (c *Config) GetKernBase() uint64 {
	if c == nil || c.KernBase == nil {
		return DefaultKernBase
	}
	return *c.KernBase
}

// GetSymbolCacheSize returns the configured symbol cache size.
func (c *Config) GetSymbolCacheSize() int {
	if c == nil || c.SymbolCacheSize <= 0 {
		return DefaultCacheSize
	}
	return c.SymbolCacheSize
}

// GetTrapFrameColor returns the configured trap frame color, falling
// back to the default for codes outside of the 3/4 bit foreground range.
func (c *Config) GetTrapFrameColor() int {
	if c == nil {
		return DefaultTrapFrameColor
	}
	n := c.TrapFrameColor
	if (n >= 30 && n <= 37) || (n >= 90 && n <= 97) {
		return n
	}
	return DefaultTrapFrameColor
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	c, err := Parse(data)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}
	return c
}

// Parse decodes a configuration file.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("unable to rewind configuration file: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the kmon kernel monitor.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Prompt printed before each command.
# prompt: "K> "

# Virtual address physical memory is mapped at.
# kernbase: 0xf0000000

# Number of resolved return addresses to cache.
# symbol-cache-size: 1024

# Stop backtraces after this many frames (0 means follow the chain to its end).
# max-depth: 0

# ANSI foreground color for the trap frame header (if unset, default is 33,
# yellow) See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# trap-frame-color: 33

# Define sources path substitution rules. Can be used to rewrite a source path stored
# in the kernel's debug information, if the sources were moved to a different place
# after the kernel was built.
substitute-path:
  # - {from: path, to: path}
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv(configDirEnv); dir != "" {
		return path.Join(dir, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
