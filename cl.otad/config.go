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

	"gopkg.in/yaml.v3"

	"fleetota/otaerr"
)

// storeConfig is the object-store section of the config file.
type storeConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	DefaultBucket   string `yaml:"default_bucket"`
}

// brokerConfig is the MQTT broker section of the config file.
type brokerConfig struct {
	URL      string `yaml:"url"`
	ClientID string `yaml:"client_id"`
	Pattern  string `yaml:"pattern"`
}

// config is the full contents of the --config YAML file.
type config struct {
	Database struct {
		DSN       string `yaml:"dsn"`
		SchemaDir string `yaml:"schema_dir"`
	} `yaml:"database"`
	ObjectStore storeConfig  `yaml:"object_store"`
	Broker      brokerConfig `yaml:"broker"`
}

func loadConfig(path string) (config, error) {
	var c config
	b, err := os.ReadFile(path)
	if err != nil {
		return c, otaerr.Wrapf(otaerr.StorageError, err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, otaerr.Wrapf(otaerr.Validation, err, "parsing config %s", path)
	}
	if c.ObjectStore.DefaultBucket == "" {
		c.ObjectStore.DefaultBucket = "files"
	}
	return c, nil
}
