package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Test     TestConfig     `yaml:"test" json:"test"`
	Workload WorkloadConfig `yaml:"workload" json:"workload"`
	Nemesis  NemesisConfig  `yaml:"nemesis" json:"nemesis"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Web      WebConfig      `yaml:"web" json:"web"`
}

type TestConfig struct {
	Name      string        `yaml:"name" json:"name"`
	Actors    int           `yaml:"actors" json:"actors"`
	Nodes     []string      `yaml:"nodes" json:"nodes"`
	TimeLimit time.Duration `yaml:"time_limit" json:"time_limit"`
	Seed      int64         `yaml:"seed" json:"seed"` // 0 = derive from wall clock
}

type WorkloadConfig struct {
	Name      string        `yaml:"name" json:"name"`
	Keys      int           `yaml:"keys" json:"keys"`       // concurrent independent keys
	PerKey    int           `yaml:"per_key" json:"per_key"` // actors dedicated to each key
	OpsPerKey int           `yaml:"ops_per_key" json:"ops_per_key"`
	Writers   int           `yaml:"writers" json:"writers"`   // reserved writer actors (mixed workload)
	Interval  time.Duration `yaml:"interval" json:"interval"` // mean delay between an actor's ops
}

type NemesisConfig struct {
	Interval     time.Duration `yaml:"interval" json:"interval"`
	Mode         string        `yaml:"mode" json:"mode"` // random or fixed
	Kill         bool          `yaml:"kill" json:"kill"`
	Pause        bool          `yaml:"pause" json:"pause"`
	Partition    bool          `yaml:"partition" json:"partition"`
	Clock        bool          `yaml:"clock" json:"clock"`
	Sched        bool          `yaml:"sched" json:"sched"`
	LongRecovery bool          `yaml:"long_recovery" json:"long_recovery"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

type StoreConfig struct {
	DataPath   string `yaml:"data_path" json:"data_path"`
	InMemory   bool   `yaml:"in_memory" json:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes" json:"sync_writes"`
}

type WebConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func DefaultConfig() *Config {
	return &Config{
		Test: TestConfig{
			Name:      "register-faults",
			Actors:    5,
			Nodes:     []string{"n1", "n2", "n3", "n4", "n5"},
			TimeLimit: 60 * time.Second,
			Seed:      0,
		},
		Workload: WorkloadConfig{
			Name:      "register",
			Keys:      8,
			PerKey:    1,
			OpsPerKey: 50,
			Writers:   2,
			Interval:  100 * time.Millisecond,
		},
		Nemesis: NemesisConfig{
			Interval:     15 * time.Second,
			Mode:         "random",
			Kill:         true,
			Pause:        false,
			Partition:    true,
			Clock:        false,
			Sched:        false,
			LongRecovery: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Store: StoreConfig{
			DataPath:   "./data/runs",
			InMemory:   false,
			SyncWrites: false,
		},
		Web: WebConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func loadFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(configPath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

func loadFromEnvironment(config *Config) {
	// Test configuration
	if name := os.Getenv("CHAOS_HARNESS_TEST_NAME"); name != "" {
		config.Test.Name = name
	}
	if actors := os.Getenv("CHAOS_HARNESS_TEST_ACTORS"); actors != "" {
		if n, err := strconv.Atoi(actors); err == nil {
			config.Test.Actors = n
		}
	}
	if nodes := os.Getenv("CHAOS_HARNESS_TEST_NODES"); nodes != "" {
		config.Test.Nodes = strings.Split(nodes, ",")
	}
	if limit := os.Getenv("CHAOS_HARNESS_TEST_TIME_LIMIT"); limit != "" {
		if d, err := time.ParseDuration(limit); err == nil {
			config.Test.TimeLimit = d
		}
	}
	if seed := os.Getenv("CHAOS_HARNESS_TEST_SEED"); seed != "" {
		if s, err := strconv.ParseInt(seed, 10, 64); err == nil {
			config.Test.Seed = s
		}
	}

	// Workload configuration
	if name := os.Getenv("CHAOS_HARNESS_WORKLOAD_NAME"); name != "" {
		config.Workload.Name = name
	}
	if keys := os.Getenv("CHAOS_HARNESS_WORKLOAD_KEYS"); keys != "" {
		if n, err := strconv.Atoi(keys); err == nil {
			config.Workload.Keys = n
		}
	}
	if interval := os.Getenv("CHAOS_HARNESS_WORKLOAD_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Workload.Interval = d
		}
	}

	// Nemesis configuration
	if interval := os.Getenv("CHAOS_HARNESS_NEMESIS_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Nemesis.Interval = d
		}
	}
	if mode := os.Getenv("CHAOS_HARNESS_NEMESIS_MODE"); mode != "" {
		config.Nemesis.Mode = mode
	}

	// Logging configuration
	if level := os.Getenv("CHAOS_HARNESS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CHAOS_HARNESS_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	// Store configuration
	if dataPath := os.Getenv("CHAOS_HARNESS_STORE_DATA_PATH"); dataPath != "" {
		config.Store.DataPath = dataPath
	}
	if inMemory := os.Getenv("CHAOS_HARNESS_STORE_IN_MEMORY"); inMemory != "" {
		if b, err := strconv.ParseBool(inMemory); err == nil {
			config.Store.InMemory = b
		}
	}
	if syncWrites := os.Getenv("CHAOS_HARNESS_STORE_SYNC_WRITES"); syncWrites != "" {
		if b, err := strconv.ParseBool(syncWrites); err == nil {
			config.Store.SyncWrites = b
		}
	}

	// Web configuration
	if host := os.Getenv("CHAOS_HARNESS_WEB_HOST"); host != "" {
		config.Web.Host = host
	}
	if port := os.Getenv("CHAOS_HARNESS_WEB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Web.Port = p
		}
	}
}

func (c *Config) Validate() error {
	// Test validation
	if c.Test.Name == "" {
		return fmt.Errorf("test name cannot be empty")
	}
	if c.Test.Actors <= 0 {
		return fmt.Errorf("actor count must be positive: %d", c.Test.Actors)
	}
	if len(c.Test.Nodes) == 0 {
		return fmt.Errorf("node list cannot be empty")
	}
	for _, node := range c.Test.Nodes {
		if node == "" {
			return fmt.Errorf("node names cannot be empty")
		}
	}
	if c.Test.TimeLimit <= 0 {
		return fmt.Errorf("time limit must be positive")
	}

	// Workload validation
	if c.Workload.Name == "" {
		return fmt.Errorf("workload name cannot be empty")
	}
	if c.Workload.Keys <= 0 {
		return fmt.Errorf("workload keys must be positive: %d", c.Workload.Keys)
	}
	if c.Workload.PerKey <= 0 {
		return fmt.Errorf("workload per-key actor count must be positive: %d", c.Workload.PerKey)
	}
	if c.Workload.OpsPerKey <= 0 {
		return fmt.Errorf("workload ops per key must be positive: %d", c.Workload.OpsPerKey)
	}
	if c.Workload.Name == "mixed" {
		if c.Workload.Writers <= 0 {
			return fmt.Errorf("mixed workload writer count must be positive: %d", c.Workload.Writers)
		}
		if c.Workload.Writers >= c.Test.Actors {
			return fmt.Errorf("mixed workload reserves %d writers but only %d actors exist",
				c.Workload.Writers, c.Test.Actors)
		}
	}
	if c.Workload.Interval <= 0 {
		return fmt.Errorf("workload interval must be positive")
	}

	// Nemesis validation
	if c.Nemesis.Interval <= 0 {
		return fmt.Errorf("nemesis interval must be positive")
	}
	validModes := map[string]bool{
		"random": true, "fixed": true,
	}
	if !validModes[strings.ToLower(c.Nemesis.Mode)] {
		return fmt.Errorf("invalid nemesis schedule mode: %s", c.Nemesis.Mode)
	}

	// Logging validation
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Store validation
	if !c.Store.InMemory && c.Store.DataPath == "" {
		return fmt.Errorf("data path cannot be empty when not using in-memory store")
	}

	// Web validation
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web port: %d", c.Web.Port)
	}
	if c.Web.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.Web.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}

	return nil
}

// EnabledFaults reports the enabled nemesis categories in declaration order.
func (c *NemesisConfig) EnabledFaults() []string {
	var faults []string
	if c.Kill {
		faults = append(faults, "kill")
	}
	if c.Pause {
		faults = append(faults, "pause")
	}
	if c.Partition {
		faults = append(faults, "partition")
	}
	if c.Clock {
		faults = append(faults, "clock")
	}
	if c.Sched {
		faults = append(faults, "sched")
	}
	return faults
}

func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
