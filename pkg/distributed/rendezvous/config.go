// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix of the environment variables read by LoadConfig.
const EnvPrefix = "SYNCMETRICS"

// DefaultAddress where the rendezvous server of rank 0 listens, if none is configured.
const DefaultAddress = "localhost:29400"

// Config of a peer of a rendezvous world.
type Config struct {
	// Rank of this process in the world, from 0 to WorldSize-1. Rank 0 runs the rendezvous server.
	Rank int

	// WorldSize is the number of processes in the world.
	WorldSize int

	// Address (host:port) of the rendezvous server. Rank 0 listens on it, every rank connects to it.
	Address string
}

// LoadConfig reads the configuration from the environment variables SYNCMETRICS_RANK, SYNCMETRICS_WORLD_SIZE
// and SYNCMETRICS_ADDRESS.
//
// If envFile is not empty, it is loaded first (godotenv format): variables already set in the environment
// take precedence over the ones in the file.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, errors.Wrapf(err, "loading rendezvous configuration from %q", envFile)
		}
	}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetDefault("rank", 0)
	v.SetDefault("world_size", 1)
	v.SetDefault("address", DefaultAddress)
	v.AutomaticEnv()
	cfg := Config{
		Rank:      v.GetInt("rank"),
		WorldSize: v.GetInt("world_size"),
		Address:   v.GetString("address"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns an error if the configuration is not usable.
func (c Config) Validate() error {
	if c.WorldSize < 1 {
		return errors.Errorf("rendezvous: invalid world size %d", c.WorldSize)
	}
	if c.Rank < 0 || c.Rank >= c.WorldSize {
		return errors.Errorf("rendezvous: rank %d out of range for world size %d", c.Rank, c.WorldSize)
	}
	if c.Address == "" {
		return errors.New("rendezvous: empty server address")
	}
	return nil
}
