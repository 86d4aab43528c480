// Package config loads and saves qpackt's line-oriented qpackt.yaml file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qpackt/qpackt/internal/password"
	"github.com/qpackt/qpackt/internal/qpackterr"
	"gopkg.in/yaml.v3"
)

const (
	keyDomain     = "domain"
	keyHTTPProxy  = "http_proxy"
	keyHTTPSProxy = "https_proxy"
	keyPassword   = "password"
	keyRunDir     = "run_directory"
	keyInfoLog    = "log_info"
	keyDebugLog   = "log_debug"
	keyWarnLog    = "log_warn"
	keyErrorLog   = "log_error"

	defaultHTTP    = "0.0.0.0:8080"
	defaultRunDir  = "/var/run/qpackt"
	defaultSqlite  = "qpackt.sqlite"
	versionsSubdir = "versions"
)

// Config is qpackt's main configuration, held in memory for the process
// lifetime. HTTPSProxy is empty when HTTPS is not configured.
type Config struct {
	Domain     string
	HTTPProxy  string
	HTTPSProxy string
	Password   string // scrypt PHC-string, never the raw password
	RunDir     string
	LogInfo    bool
	LogDebug   bool
	LogWarn    bool
	LogError   bool
}

// StorePath is the absolute path to the SQLite file under RunDir.
func (c *Config) StorePath() string {
	return filepath.Join(c.RunDir, defaultSqlite)
}

// VersionsDir is the absolute path to the extracted-site root directory.
func (c *Config) VersionsDir() string {
	return filepath.Join(c.RunDir, versionsSubdir)
}

// Read parses a qpackt.yaml-style file. It is flat key: value YAML, so the
// generic yaml.v3 unmarshaler into a map is sufficient for the read path.
func Read(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, qpackterr.Wrap(qpackterr.IO, "reading config file", err)
	}
	var fields map[string]string
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return nil, qpackterr.Wrap(qpackterr.InvalidConfig, "parsing config file", err)
	}

	domain, ok := fields[keyDomain]
	if !ok || domain == "" {
		return nil, qpackterr.New(qpackterr.InvalidConfig, "missing config value `domain`")
	}
	httpProxy, ok := fields[keyHTTPProxy]
	if !ok || httpProxy == "" {
		return nil, qpackterr.New(qpackterr.InvalidConfig, "missing config value `http_proxy`")
	}
	pass, ok := fields[keyPassword]
	if !ok || pass == "" {
		return nil, qpackterr.New(qpackterr.InvalidConfig, "missing config value `password`")
	}
	runDir, ok := fields[keyRunDir]
	if !ok || runDir == "" {
		return nil, qpackterr.New(qpackterr.InvalidConfig, "missing config value `run_directory`")
	}

	return &Config{
		Domain:     domain,
		HTTPProxy:  httpProxy,
		HTTPSProxy: fields[keyHTTPSProxy],
		Password:   pass,
		RunDir:     runDir,
		LogInfo:    fields[keyInfoLog] != "false",
		LogDebug:   fields[keyDebugLog] == "true",
		LogWarn:    fields[keyWarnLog] != "false",
		LogError:   fields[keyErrorLog] != "false",
	}, nil
}

// Save writes the config as CRLF-terminated `key: value` lines, matching
// the format Read accepts and preserving field order on round trip.
func (c *Config) Save(path string) error {
	var b strings.Builder
	writeLine(&b, keyDomain, c.Domain)
	writeLine(&b, keyHTTPProxy, c.HTTPProxy)
	if c.HTTPSProxy != "" {
		writeLine(&b, keyHTTPSProxy, c.HTTPSProxy)
	}
	writeLine(&b, keyPassword, c.Password)
	writeLine(&b, keyRunDir, c.RunDir)
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return qpackterr.Wrap(qpackterr.IO, "writing config file", err)
	}
	return nil
}

func writeLine(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "%s: %s\r\n", key, value)
}

// CreateInteractive prompts on stdin for the config fields and writes
// qpackt.yaml in the current working directory.
func CreateInteractive(stdin *bufio.Reader) (*Config, error) {
	domain, err := readStdin(stdin, "Domain")
	if err != nil {
		return nil, err
	}
	httpProxy, err := readStdin(stdin, "Ip/port for HTTP traffic (default 0.0.0.0:8080)")
	if err != nil {
		return nil, err
	}
	httpsProxy, err := readStdin(stdin, "Ip/port for HTTPS traffic (leave empty for no HTTPS)")
	if err != nil {
		return nil, err
	}
	rawPassword, err := readStdin(stdin, "Administrator's password")
	if err != nil {
		return nil, err
	}
	runDir, err := readStdin(stdin, "Run directory (default /var/run/qpackt)")
	if err != nil {
		return nil, err
	}

	hashed, err := password.Hash(rawPassword)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Domain:     domain,
		HTTPProxy:  ifEmpty(httpProxy, defaultHTTP),
		HTTPSProxy: httpsProxy,
		Password:   hashed,
		RunDir:     ifEmpty(runDir, defaultRunDir),
		LogInfo:    true,
		LogWarn:    true,
		LogError:   true,
	}
	const path = "qpackt.yaml"
	if err := cfg.Save(path); err != nil {
		return nil, err
	}
	fmt.Printf("Config file saved in %s\n", path)
	return cfg, nil
}

func readStdin(r *bufio.Reader, prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", qpackterr.Wrap(qpackterr.IO, "reading stdin", err)
	}
	return strings.TrimSpace(line), nil
}

func ifEmpty(value, def string) string {
	if value != "" {
		return value
	}
	return def
}
