/*
 * COPYRIGHT 2024 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fleetota/otaerr"
)

type storeConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

type brokerConfig struct {
	URL      string `yaml:"url"`
	ClientID string `yaml:"client_id"`
	Pattern  string `yaml:"pattern"`
}

// config is the full contents of the --config YAML file. RobotID and
// CloudBaseURL have no counterpart in cl.otad's config: they name this
// daemon's own identity and its upload target, matching the original
// Python daemon's per-robot config file.
type config struct {
	RobotID        string        `yaml:"robot_id"`
	CloudBaseURL   string        `yaml:"cloud_base_url"`
	ReportInterval time.Duration `yaml:"report_interval"`
	ObjectStore    storeConfig   `yaml:"object_store"`
	Broker         brokerConfig  `yaml:"broker"`
}

const defaultReportInterval = 500 * time.Millisecond

func loadConfig(path string) (config, error) {
	var c config
	b, err := os.ReadFile(path)
	if err != nil {
		return c, otaerr.Wrapf(otaerr.StorageError, err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, otaerr.Wrapf(otaerr.Validation, err, "parsing config %s", path)
	}
	if c.RobotID == "" {
		return c, otaerr.New(otaerr.Validation, "config missing robot_id")
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = defaultReportInterval
	}
	return c, nil
}
