package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	_ "embed"

	"github.com/go-ini/ini"
	"github.com/padgrid/midicore/internal/pkg/logger"
)

type Config struct {
	DiscoveryRate       time.Duration
	QueueSize           int
	LatencyCompensation time.Duration
	InternalTempo       float64
	ProfileDirectory    string
	LearnTimeout        time.Duration

	ReconnectBase     time.Duration
	ReconnectAttempts int
	ReconnectTimeout  time.Duration
}

func LoadConfig(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	cfg, err := ini.Load(data)
	if err != nil {
		panic(err)
	}

	var c Config

	core, _ := cfg.GetSection("midicore")

	discoveryRate, _ := core.GetKey("discovery_rate")
	i, err := discoveryRate.Int()
	if err != nil {
		panic(err)
	}
	c.DiscoveryRate = time.Second / time.Duration(i)

	queueSize, _ := core.GetKey("queue_size")
	c.QueueSize, err = queueSize.Int()
	if err != nil {
		panic(err)
	}

	latency, _ := core.GetKey("latency_compensation")
	i, err = latency.Int()
	if err != nil {
		panic(err)
	}
	c.LatencyCompensation = time.Millisecond * time.Duration(i)

	tempo, _ := core.GetKey("internal_tempo")
	c.InternalTempo, err = tempo.Float64()
	if err != nil {
		panic(err)
	}

	profileDir, _ := core.GetKey("profile_directory")
	c.ProfileDirectory = profileDir.String()

	learnTimeout, _ := core.GetKey("learn_timeout")
	i, err = learnTimeout.Int()
	if err != nil {
		panic(err)
	}
	c.LearnTimeout = time.Second * time.Duration(i)

	// [reconnect]
	reconnect, _ := cfg.GetSection("reconnect")

	base, _ := reconnect.GetKey("base_delay")
	i, err = base.Int()
	if err != nil {
		panic(err)
	}
	c.ReconnectBase = time.Millisecond * time.Duration(i)

	attempts, _ := reconnect.GetKey("max_attempts")
	c.ReconnectAttempts, err = attempts.Int()
	if err != nil {
		panic(err)
	}

	timeout, _ := reconnect.GetKey("timeout")
	i, err = timeout.Int()
	if err != nil {
		panic(err)
	}
	c.ReconnectTimeout = time.Second * time.Duration(i)

	return c
}

//go:embed midicore-config/midicore.config
var templateConfig []byte

const configDir = "midicore-config"
const configPath = configDir + "/midicore.config"

// createConfigDirectoryIfNeeded generates the config tree on first run,
// an existing midicore.config stays intact.
func createConfigDirectoryIfNeeded() error {
	_, err := os.Stat(configPath)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot read config file: %w", err)
	}

	log.Info("config not exist, generating tree...", logger.Info)

	err = os.MkdirAll(configDir, 0o777)
	if err != nil {
		return fmt.Errorf("cannot create \"%s\" directory: %w", configDir, err)
	}

	err = os.WriteFile(configPath, templateConfig, 0o666)
	if err != nil {
		return fmt.Errorf("cannot write \"%s\" file: %w", configPath, err)
	}

	log.Info("config generation done", logger.Info)
	return nil
}
