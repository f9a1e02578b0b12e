package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const (
	configFileENV     = "CONFIG_FILE"
	defaultConfigFile = "/config/shelfsync.yaml"
)

type Config struct {
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" json:"-" default:"5s"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" json:"-" default:"5"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" json:"-" default:"2s"`
	DatabaseDebug             bool          `koanf:"database_debug" json:"database_debug"`
	DatabaseFilePath          string        `koanf:"database_file_path" json:"database_file_path" validate:"required"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" json:"-" default:"5"`
	Hostname                  string        `koanf:"-" json:"hostname"`
	ServerHost                string        `koanf:"server_host" json:"server_host" default:"0.0.0.0"`
	ServerPort                int           `koanf:"server_port" json:"server_port" default:"3690"`
	WorkerProcesses           int           `koanf:"worker_processes" json:"worker_processes" default:"1" validate:"min=1"`
	LockFilePath              string        `koanf:"lock_file_path" json:"lock_file_path" default:"/tmp/shelfsync.lock"`

	// Object storage
	StorageDir     string `koanf:"storage_dir" json:"storage_dir" default:"./tmp/storage"`
	StorageBaseURL string `koanf:"storage_base_url" json:"storage_base_url" default:"/objects"`
	CoverMaxWidth  int    `koanf:"cover_max_width" json:"cover_max_width" default:"600"`

	// Feed
	FeedExportDir   string        `koanf:"feed_export_dir" json:"feed_export_dir" default:"./tmp/export"`
	MetadataChannel string        `koanf:"metadata_channel" json:"metadata_channel"`
	FilesChannel    string        `koanf:"files_channel" json:"files_channel"`
	PageSize        int           `koanf:"page_size" json:"page_size" default:"50" validate:"min=1,max=200"`
	BatchDelay      time.Duration `koanf:"batch_delay" json:"batch_delay" default:"500ms"`
	FetchRetries    int           `koanf:"fetch_retries" json:"fetch_retries" default:"2" validate:"min=0"`
	PhotoTimeout    time.Duration `koanf:"photo_timeout" json:"photo_timeout" default:"30s"`
	DocumentTimeout time.Duration `koanf:"document_timeout" json:"document_timeout" default:"90s"`
	DownloadWorkers int           `koanf:"download_workers" json:"download_workers" default:"2" validate:"min=1"`
	TagStoplist     []string      `koanf:"tag_stoplist" json:"tag_stoplist"`
}

func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	k := koanf.New(".")

	configFile := os.Getenv(configFileENV)
	if configFile == "" {
		configFile = defaultConfigFile
	}
	if _, err := os.Stat(configFile); err == nil {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", configFile)
		}
	}

	// Environment variables override the file, e.g. SERVER_PORT -> server_port.
	keys := configKeys()
	err = k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		if _, ok := keys[key]; !ok {
			return ""
		}
		return key
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.WithStack(err)
	}
	cfg.Hostname = hostname

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewForTest returns a config pointing at an in-memory database with every
// default applied.
func NewForTest() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	cfg.DatabaseFilePath = ":memory:"
	cfg.ServerHost = "127.0.0.1"
	cfg.BatchDelay = 0
	return cfg
}

func validateConfig(cfg *Config) error {
	validate := validator.New()
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.WithStack(err)
	}

	fe := verrs[0]
	key := toSnakeCase(fe.StructField())
	if fe.Tag() == "required" {
		return errors.Errorf("missing required config: %s (%s)", strings.ToUpper(key), key)
	}
	return errors.Errorf("invalid config %s: failed %q validation", key, fe.Tag())
}

func configKeys() map[string]struct{} {
	keys := map[string]struct{}{}
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("koanf")
		if tag == "" || tag == "-" {
			continue
		}
		keys[tag] = struct{}{}
	}
	return keys
}

// toSnakeCase maps a Config field name to its config key.
func toSnakeCase(s string) string {
	return strcase.ToSnake(s)
}
