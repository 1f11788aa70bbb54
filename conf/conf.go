// Package conf defines the Bootstrap configuration tree, following the
// teacher's conf package: one struct per concern, yaml/json tagged for
// gopkg.in/yaml.v3, with zero-value defaults filled in by dario.cat/mergo
// against Defaults() before a config file is scanned on top.
package conf

import "time"

type Bootstrap struct {
	Hostname string    `json:"hostname" yaml:"hostname"`
	PidFile  string     `json:"pidfile" yaml:"pidfile"`
	Logger   *Logger   `json:"logger" yaml:"logger"`
	Server   *Server   `json:"server" yaml:"server"`
	Cache    *Cache    `json:"cache" yaml:"cache"`
	Upstream *Upstream `json:"upstream" yaml:"upstream"`
}

type Logger struct {
	Level      string `json:"level" yaml:"level"`
	Path       string `json:"path" yaml:"path"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type Server struct {
	Addr               string        `json:"addr" yaml:"addr"`
	ReadTimeout        time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout        time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ReadHeaderTimeout  time.Duration `json:"read_header_timeout" yaml:"read_header_timeout"`
	MaxHeaderBytes     int           `json:"max_header_bytes" yaml:"max_header_bytes"`
	LocalAPIAllowHosts []string      `json:"local_api_allow_hosts" yaml:"local_api_allow_hosts"`
	AccessLog          *AccessLog    `json:"access_log" yaml:"access_log"`
}

type AccessLog struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Cache configures the chunked on-disk store and eviction policy (§3/§4.4
// of SPEC_FULL.md). ChunkSize is informational only and nothing reads
// it: the on-disk chunk size is fixed at 5 MiB by internal/chunkstore.
type Cache struct {
	Root          string `json:"root" yaml:"root"`
	MaxTotalBytes int64  `json:"max_total_bytes" yaml:"max_total_bytes"`
	ChunkSize     int64  `json:"chunk_size" yaml:"chunk_size"`
}

// Upstream configures how internal/originfetcher dials origins.
type Upstream struct {
	MaxIdleConnsPerHost   int           `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host"`
	DialTimeout           time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `json:"response_header_timeout" yaml:"response_header_timeout"`
	IdleFetchTimeout      time.Duration `json:"idle_fetch_timeout" yaml:"idle_fetch_timeout"`
}

// Defaults returns a Bootstrap populated with the process defaults; a
// loaded config file is merged on top of this with dario.cat/mergo so
// that partially-specified YAML files still get sane values everywhere
// else, mirroring the teacher's practice of pre-seeding option structs
// before calling Unmarshal.
func Defaults() *Bootstrap {
	return &Bootstrap{
		Logger: &Logger{
			Level:      "info",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		},
		Server: &Server{
			Addr:              ":8080",
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
			AccessLog:         &AccessLog{},
		},
		Cache: &Cache{
			Root:          "./cache-data",
			MaxTotalBytes: 1 << 30,
			ChunkSize:     5 << 20,
		},
		Upstream: &Upstream{
			MaxIdleConnsPerHost:   16,
			DialTimeout:           10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			IdleFetchTimeout:      30 * time.Second,
		},
	}
}
