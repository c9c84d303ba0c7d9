package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"

	"github.com/spf13/viper"
)

var cfg Config
var home = os.Getenv("HOME")

func getViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("glidex_config")
	v.SetConfigType("json")
	v.AddConfigPath(".")             // config file reading order starts with current working directory
	v.AddConfigPath("$HOME/.glidex") // then home directory
	v.AddConfigPath("/etc/glidex/")  // finally /etc/glidex
	return v
}

func setDefaultConfig() *viper.Viper {
	v := getViper()
	v.SetDefault("general.data_dir", filepath.Join(home, ".glidex"))
	v.SetDefault("general.debug", false)
	v.SetDefault("rest.port", 8080)
	v.SetDefault("firecracker.binary_path", "firecracker")
	v.SetDefault("firecracker.shutdown_timeout_sec", 10)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	return v
}

func LoadConfig() {
	paths := []string{
		".",
		home + "/.glidex",
		"/etc/glidex",
	}
	configFile := "glidex_config.json"
	v := setDefaultConfig()

	config, err := findConfig(paths, configFile)
	if err != nil {
		setDefaultConfig().Unmarshal(&cfg)
		return
	}

	modifiedConfig := removeComments(config)
	if err = v.ReadConfig(bytes.NewBuffer(modifiedConfig)); err != nil { // Viper only reads buffer, keeping comments in original config
		setDefaultConfig().Unmarshal(&cfg)
		return
	}

	if err = v.Unmarshal(&cfg); err != nil {
		setDefaultConfig().Unmarshal(&cfg)
	}
}

func SetConfig(key string, value interface{}) {
	v := setDefaultConfig()
	v.Set(key, value)
	err := v.Unmarshal(&cfg)
	if err != nil {
		setDefaultConfig().Unmarshal(&cfg)
	}
}

func GetConfig() *Config {
	if reflect.DeepEqual(cfg, Config{}) {
		LoadConfig()
	}
	return &cfg
}

func findConfig(paths []string, filename string) ([]byte, error) {
	for _, path := range paths {
		fullPath := filepath.Join(path, filename)
		if _, err := os.Stat(fullPath); err == nil {
			return os.ReadFile(fullPath)
		}
	}

	return nil, fmt.Errorf("file not found in any of the paths")
}

func removeComments(configBytes []byte) []byte {
	re := regexp.MustCompile("(?s)//.*?\n") // match all '//' until the end of the line
	return re.ReplaceAll(configBytes, nil)
}
