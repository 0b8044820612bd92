package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("authkit version %s, commit %s, built at %s", version, commit, date)
}

type Config struct {
	API     APIConfig     `mapstructure:"api"`
	OAuth   OAuthConfig   `mapstructure:"oauth"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StorageDriver selects the persistence engine backing the credential store
type StorageDriver string

const (
	StorageDriverFile   StorageDriver = "file"
	StorageDriverSQLite StorageDriver = "sqlite"
)

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type OAuthConfig struct {
	ClientID         string   `mapstructure:"client_id"`
	AuthEndpoint     string   `mapstructure:"auth_endpoint"`
	UserInfoEndpoint string   `mapstructure:"userinfo_endpoint"`
	RedirectURI      string   `mapstructure:"redirect_uri"`
	Scopes           []string `mapstructure:"scopes"`
	PopupName        string   `mapstructure:"popup_name"`
	VerifyIDToken    bool     `mapstructure:"verify_id_token"`
	IssuerURL        string   `mapstructure:"issuer_url"`
}

type StorageConfig struct {
	Driver      StorageDriver `mapstructure:"driver"`
	Path        string        `mapstructure:"path"`
	MailboxPath string        `mapstructure:"mailbox_path"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

type LoggingConfig struct {
	Level             string `mapstructure:"level"`
	Format            string `mapstructure:"format"`
	Color             bool   `mapstructure:"color"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	OutputPath        string `mapstructure:"output_path"`
	AppendToFile      bool   `mapstructure:"append_to_file"`
	DisableConsole    bool   `mapstructure:"disable_console"`
}

// InitFlags initializes command line flags (without parsing)
func InitFlags() {
	pflag.String("api.base-url", "", "Backend API base URL")
	pflag.String("oauth.client-id", "", "OAuth client identifier for web sign-in")
	pflag.String("storage.driver", string(StorageDriverFile), "Credential storage driver (file|sqlite)")
	pflag.String("storage.path", "", "Credential storage path")
	// Note: no pflag.Parse() here as it's called in main.go
}

func Load() (*Config, error) {
	viper.Reset() // Ensure clean state

	viper.SetEnvPrefix("AUTHKIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	viper.SetDefault("api.timeout", 30*time.Second)
	viper.SetDefault("oauth.auth_endpoint", "https://accounts.google.com/o/oauth2/v2/auth")
	viper.SetDefault("oauth.userinfo_endpoint", "https://openidconnect.googleapis.com/v1/userinfo")
	viper.SetDefault("oauth.issuer_url", "https://accounts.google.com")
	viper.SetDefault("oauth.scopes", []string{"openid", "profile", "email"})
	viper.SetDefault("oauth.popup_name", "authkit_oauth_popup")
	viper.SetDefault("storage.driver", string(StorageDriverFile))
	viper.SetDefault("storage.load_timeout", 3*time.Second)
	viper.SetDefault("logging.level", "info")

	// Load ./config.yaml first
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/authkit")

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; flags and env can carry everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.API.BaseURL == "" {
		return nil, fmt.Errorf("api.base_url is required, please adjust the config or pass --api.base-url or AUTHKIT_API_BASE_URL environment variable")
	}

	switch config.Storage.Driver {
	case StorageDriverFile, StorageDriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", config.Storage.Driver)
	}

	return &config, nil
}
