// Package config loads orgsync settings from a YAML file and ORGSYNC_
// environment variables, then checks them against an embedded CUE schema.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
)

//go:embed schema.cue
var schema string

// EnvPrefix prefixes every environment override, e.g. ORGSYNC_CLOUD_APP_KEY.
const EnvPrefix = "ORGSYNC"

// Config is the full process configuration.
type Config struct {
	Store       StoreConfig       `mapstructure:"store" json:"store"`
	Source      SourceConfig      `mapstructure:"source" json:"source"`
	Cloud       CloudConfig       `mapstructure:"cloud" json:"cloud"`
	Sync        SyncConfig        `mapstructure:"sync" json:"sync"`
	Staging     StagingConfig     `mapstructure:"staging" json:"staging"`
	HTTP        HTTPConfig        `mapstructure:"http" json:"http"`
	AddressBook AddressBookConfig `mapstructure:"addressbook" json:"addressbook"`
	Log         LogConfig         `mapstructure:"log" json:"log"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

type SourceConfig struct {
	Path       string `mapstructure:"path" json:"path"`
	IgnoreFile string `mapstructure:"ignore_file" json:"ignore_file"`
}

// CloudConfig addresses the cloud platform. RateLimit is requests per
// second; 0 disables pacing.
type CloudConfig struct {
	BaseURL   string        `mapstructure:"base_url" json:"base_url"`
	AppID     string        `mapstructure:"app_id" json:"app_id"`
	AppKey    string        `mapstructure:"app_key" json:"app_key"`
	PageSize  int           `mapstructure:"page_size" json:"page_size"`
	PageDelay time.Duration `mapstructure:"page_delay" json:"page_delay"`
	RateLimit float64       `mapstructure:"rate_limit" json:"rate_limit"`
}

type SyncConfig struct {
	RootID                string        `mapstructure:"root_id" json:"root_id"`
	Cron                  string        `mapstructure:"cron" json:"cron"`
	CleanCron             string        `mapstructure:"clean_cron" json:"clean_cron"`
	RetryDelay            time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	NoAddUser             bool          `mapstructure:"no_add_user" json:"no_add_user"`
	NoAddDept             bool          `mapstructure:"no_add_dept" json:"no_add_dept"`
	BindByName            bool          `mapstructure:"bind_by_name" json:"bind_by_name"`
	DeptNameStep          string        `mapstructure:"dept_name_step" json:"dept_name_step"`
	MembershipConcurrency int           `mapstructure:"membership_concurrency" json:"membership_concurrency"`
}

type StagingConfig struct {
	RetentionMonths int `mapstructure:"retention_months" json:"retention_months"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

type AddressBookConfig struct {
	Token string `mapstructure:"token" json:"token"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	File       string `mapstructure:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days"`
}

// defaults doubles as the list of known keys: viper only consults the
// environment for keys it has seen.
var defaults = map[string]any{
	"store.path":                  "orgsync.db",
	"source.path":                 "",
	"source.ignore_file":          ".accountignore",
	"cloud.base_url":              "https://openapi.wps.cn",
	"cloud.app_id":                "",
	"cloud.app_key":               "",
	"cloud.page_size":             1000,
	"cloud.page_delay":            "50ms",
	"cloud.rate_limit":            0,
	"sync.root_id":                "",
	"sync.cron":                   "0 2 * * *",
	"sync.clean_cron":             "",
	"sync.retry_delay":            "5m",
	"sync.no_add_user":            false,
	"sync.no_add_dept":            false,
	"sync.bind_by_name":           false,
	"sync.dept_name_step":         "-",
	"sync.membership_concurrency": 4,
	"staging.retention_months":    6,
	"http.addr":                   ":8080",
	"addressbook.token":           "",
	"log.level":                   "info",
	"log.file":                    "",
	"log.max_size_mb":             100,
	"log.max_backups":             7,
	"log.max_age_days":            30,
}

// Load reads path (optional) and the environment into a validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against the embedded schema.
func (c *Config) Validate() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	s := ctx.CompileString(schema, cue.Filename("schema.cue"))
	if err := s.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	val := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	unified := s.LookupPath(cue.ParsePath("#Config")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RateBurst returns the token bucket size matching RateLimit.
func (c CloudConfig) RateBurst() int {
	if c.RateLimit < 1 {
		return 1
	}
	return int(c.RateLimit)
}
