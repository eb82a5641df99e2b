package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	responsetransformer "github.com/always-cache/swcache/pkg/response-transformer"
)

type Config struct {
	CacheName         string        `yaml:"cacheName"`
	NavigationTimeout time.Duration `yaml:"navigationTimeout"`
	// nil means enabled
	NavigationPreload *bool                     `yaml:"navigationPreload"`
	Rules             responsetransformer.Rules `yaml:"rules"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

func (c Config) preloadEnabled() bool {
	return c.NavigationPreload == nil || *c.NavigationPreload
}
