package config

type Config struct {
	General     `mapstructure:"general"`
	Rest        `mapstructure:"rest"`
	Firecracker `mapstructure:"firecracker"`
	Tracing     `mapstructure:"tracing"`
}

type General struct {
	DataDir string `mapstructure:"data_dir"` // sockets, console logs and the VM database live here
	Debug   bool   `mapstructure:"debug"`
}

type Rest struct {
	Port int `mapstructure:"port"`
}

type Firecracker struct {
	BinaryPath         string `mapstructure:"binary_path"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec"` // grace period before SIGKILL
}

type Tracing struct {
	Endpoint string `mapstructure:"endpoint"` // OTLP gRPC collector; empty disables tracing
	Insecure bool   `mapstructure:"insecure"`
}
