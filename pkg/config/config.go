// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	cerrors "github.com/xcluster/xtarget/pkg/errors"
	"github.com/xcluster/xtarget/pkg/logutil"
	"go.uber.org/zap"
)

const (
	defaultMetricsAddr = "127.0.0.1:8320"
)

// TomlDuration is a duration with a custom json decoder and toml decoder
type TomlDuration time.Duration

// UnmarshalText is the toml decoder
func (d *TomlDuration) UnmarshalText(text []byte) error {
	stdDuration, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Trace(err)
	}
	*d = TomlDuration(stdDuration)
	return nil
}

// MarshalText is the toml encoder
func (d TomlDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ServerConfig is the configuration of a target-side replication control plane node.
type ServerConfig struct {
	MetricsAddr string           `toml:"metrics-addr" json:"metrics-addr"`
	Log         *logutil.Config  `toml:"log" json:"log"`
	Admission   *AdmissionConfig `toml:"admission" json:"admission"`
	Etcd        *EtcdConfig      `toml:"etcd" json:"etcd"`
}

// EtcdConfig configures the etcd backed replication group store. An empty
// endpoint list selects the in-memory store.
type EtcdConfig struct {
	Endpoints   []string     `toml:"endpoints" json:"endpoints"`
	KeyPrefix   string       `toml:"key-prefix" json:"key-prefix"`
	DialTimeout TomlDuration `toml:"dial-timeout" json:"dial-timeout"`
}

var defaultEtcdConfig = &EtcdConfig{
	KeyPrefix:   "/xcluster",
	DialTimeout: TomlDuration(3 * time.Second),
}

// ValidateAndAdjust validates and adjusts the etcd configuration
func (c *EtcdConfig) ValidateAndAdjust() error {
	if c.KeyPrefix == "" {
		c.KeyPrefix = defaultEtcdConfig.KeyPrefix
	}
	if !strings.HasPrefix(c.KeyPrefix, "/") {
		return cerrors.ErrInvalidServerOption.GenWithStackByArgs("etcd key-prefix must start with '/'")
	}
	c.KeyPrefix = strings.TrimSuffix(c.KeyPrefix, "/")
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultEtcdConfig.DialTimeout
	}
	for _, endpoint := range c.Endpoints {
		if err := verifyEtcdEndpoint(endpoint); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// verifyEtcdEndpoint verifies whether the etcd endpoint is a valid http or
// https URL.
func verifyEtcdEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return cerrors.ErrInvalidServerOption.Wrap(err).GenWithStackByArgs(
			"etcd endpoint " + strconv.Quote(endpoint) + " cannot be parsed")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return cerrors.ErrInvalidServerOption.GenWithStackByArgs(
			"etcd endpoint " + strconv.Quote(endpoint) + " should be a valid http or https URL")
	}
	return nil
}

// GetDefaultServerConfig returns a fresh default server config.
func GetDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MetricsAddr: defaultMetricsAddr,
		Log:         &logutil.Config{},
		Admission:   GetDefaultAdmissionConfig(),
		Etcd: &EtcdConfig{
			KeyPrefix:   defaultEtcdConfig.KeyPrefix,
			DialTimeout: defaultEtcdConfig.DialTimeout,
		},
	}
}

// ValidateAndAdjust validates and adjusts the server configuration
func (c *ServerConfig) ValidateAndAdjust() error {
	if c.Log == nil {
		c.Log = &logutil.Config{}
	}
	c.Log.Adjust()
	if c.Admission == nil {
		c.Admission = GetDefaultAdmissionConfig()
	}
	if err := c.Admission.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}
	if c.Etcd == nil {
		c.Etcd = &EtcdConfig{}
	}
	if err := c.Etcd.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// StrictDecodeFile decodes the toml file strictly. If any item in confFile file is not mapped
// into the Config struct, issue an error and stop the server from starting.
func StrictDecodeFile(path, component string, cfg interface{}, ignoreCheckItems ...string) error {
	metaData, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return errors.Trace(err)
	}

	// check if item is a ignoreCheckItem
	hasIgnoreItem := func(item []string) bool {
		for _, ignoreCheckItem := range ignoreCheckItems {
			if item[0] == ignoreCheckItem {
				return true
			}
		}
		return false
	}

	if undecoded := metaData.Undecoded(); len(undecoded) > 0 {
		var b strings.Builder
		hasUnknownConfigSize := 0
		for _, item := range undecoded {
			if hasIgnoreItem(item) {
				continue
			}

			if hasUnknownConfigSize > 0 {
				b.WriteString(", ")
			}
			b.WriteString(item.String())
			hasUnknownConfigSize++
		}
		if hasUnknownConfigSize > 0 {
			err = errors.Errorf("component %s's config file %s contained unknown configuration options: %s",
				component, path, b.String())
		}
	}
	return errors.Trace(err)
}

// LoadServerConfig reads path on top of the defaults and validates the result.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := GetDefaultServerConfig()
	if path != "" {
		if err := StrictDecodeFile(path, "xcluster-target", cfg); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, errors.Trace(err)
	}
	log.Info("load server config",
		zap.String("path", path),
		zap.String("metricsAddr", cfg.MetricsAddr),
		zap.Duration("scheduleDelay", time.Duration(cfg.Admission.ScheduleDelay)),
		zap.Duration("taskTimeout", time.Duration(cfg.Admission.TaskTimeout)))
	return cfg, nil
}
