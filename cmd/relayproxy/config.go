package main

import (
	"flag"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML-loadable configuration shape, grounded on the
// teacher's cmd/go-mitmproxy Config struct and Resin's config-file
// conventions, generalized to this proxy's collaborator set.
type fileConfig struct {
	Addr           string        `yaml:"addr"`
	Transparent    bool          `yaml:"transparent"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SslInsecure    bool          `yaml:"ssl_insecure"`
	UseDNSSEC      bool          `yaml:"use_dnssec"`
	CertPath       string        `yaml:"cert_path"`
	ProxyAuth      string        `yaml:"proxy_auth"` // "user:pass", empty disables
	IgnoreHosts    []string      `yaml:"ignore_hosts"`
	EnableGeoIP    bool          `yaml:"enable_geoip"`
	GeoIPDBPath    string        `yaml:"geoip_db_path"`
	ActivityDBPath string        `yaml:"activity_db_path"`
	LogFile        string        `yaml:"log_file"`
	Debug          bool          `yaml:"debug"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Addr:        ":8080",
		IdleTimeout: 2 * time.Minute,
		CertPath:    "",
	}
}

func loadConfig() (fileConfig, error) {
	cfg := defaultFileConfig()

	var configFile string
	flag.StringVar(&configFile, "config", "", "path to a YAML config file")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "proxy listen address")
	flag.BoolVar(&cfg.Transparent, "transparent", cfg.Transparent, "skip proxy header rewriting")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "idle connection timeout")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "per-request upstream timeout (copied into proxy.Config.RequestTimeout, which the proxy does not enforce)")
	flag.BoolVar(&cfg.SslInsecure, "ssl-insecure", cfg.SslInsecure, "skip upstream TLS certificate verification")
	flag.BoolVar(&cfg.UseDNSSEC, "use-dnssec", cfg.UseDNSSEC, "validate DNSSEC on address resolution")
	flag.StringVar(&cfg.CertPath, "cert-path", cfg.CertPath, "directory holding the MITM root CA")
	flag.StringVar(&cfg.ProxyAuth, "proxy-auth", cfg.ProxyAuth, "require Basic proxy auth as user:pass")
	flag.BoolVar(&cfg.EnableGeoIP, "enable-geoip", cfg.EnableGeoIP, "enable GeoIP-enriched activity tracking")
	flag.StringVar(&cfg.GeoIPDBPath, "geoip-db", cfg.GeoIPDBPath, "path to a MaxMind GeoLite2 database")
	flag.StringVar(&cfg.ActivityDBPath, "activity-db", cfg.ActivityDBPath, "path to a durable SQLite activity log")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "write logs to this file instead of stdout")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	flag.Parse()

	// -config, when given, is applied after the flags: every key the YAML
	// file sets overrides the matching flag, and fields the file leaves out
	// keep their flag or default value.
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return cfg, err
		}
		fileCfg := cfg
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, err
		}
		cfg = fileCfg
	}
	return cfg, nil
}
