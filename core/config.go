package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ReadTimeout               time.Duration
		WriteTimeout              time.Duration
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	MembershipConfig struct {
		SeasonRetention  int
		DefaultCapacity  int
		MembershipAmount string
	}

	Config struct {
		Env             string // DEV (local; default), TEST, QA, PROD
		Build           string
		Debug           bool
		TestMode        bool
		AppName         string
		SecretKey       string
		WorkDir         string
		FrontendBaseURL string
		FromEmail       string
		SuperuserEmail  string
		SendgridApiKey  string
		RollbarToken    string
		Server          ServerConfig
		Database        DatabaseConfig
		Membership      MembershipConfig
	}
)

// NewConfig loads the configuration from defaults, the optional `config/.env.<env>` file and KDANCE_* variables.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	setDefaults(v, env)
	v.SetEnvPrefix("kdance")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{
		Env:             env,
		Build:           v.GetString("build"),
		Debug:           v.GetBool("debug"),
		TestMode:        env == "TEST",
		AppName:         v.GetString("app_name"),
		SecretKey:       v.GetString("secret_key"),
		WorkDir:         workDir,
		FrontendBaseURL: v.GetString("frontend_url"),
		FromEmail:       v.GetString("default_from_email"),
		SuperuserEmail:  v.GetString("superuser_email"),
		SendgridApiKey:  v.GetString("sendgrid_api_key"),
		RollbarToken:    v.GetString("rollbar_token"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			DebugHost:                 v.GetString("server.debug_host"),
			ReadTimeout:               v.GetDuration("server.read_timeout"),
			WriteTimeout:              v.GetDuration("server.write_timeout"),
			ShutdownTimeout:           v.GetDuration("server.shutdown_timeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwt_expiration_delta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwt_refresh_expiration_delta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.admin_user"),
			AdminPassword: v.GetString("database.admin_password"),
			DisableTLS:    v.GetBool("database.disable_tls"),
		},
		Membership: MembershipConfig{
			SeasonRetention:  v.GetInt("membership.season_retention"),
			DefaultCapacity:  v.GetInt("membership.default_capacity"),
			MembershipAmount: v.GetString("membership.membership_amount"),
		},
	}
}

func setDefaults(v *viper.Viper, env string) {
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("build", "develop")
	v.SetDefault("app_name", "KDance")
	v.SetDefault("secret_key", "x9#lq2-_r0v!k@d4nce$t7m+e0s8c%u1w^z3j&p5y(b6n)f")
	v.SetDefault("frontend_url", "http://localhost:3000")
	v.SetDefault("default_from_email", "noreply@localhost")
	v.SetDefault("superuser_email", "admin@localhost")

	v.SetDefault("server.host", "0.0.0.0:8000")
	v.SetDefault("server.debug_host", "0.0.0.0:4000")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.jwt_expiration_delta", 7*24*time.Hour)
	v.SetDefault("server.jwt_refresh_expiration_delta", 4*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "kdance")
	v.SetDefault("database.user", "kdance")
	v.SetDefault("database.password", "kdance")
	v.SetDefault("database.admin_user", "postgres")
	v.SetDefault("database.admin_password", "postgres")
	v.SetDefault("database.disable_tls", true)

	v.SetDefault("membership.season_retention", 5)
	v.SetDefault("membership.default_capacity", 12)
	v.SetDefault("membership.membership_amount", "10")
}

// DefaultFromEmail is the sender address of every outgoing email.
func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.FromEmail}
}

// Operators are the addresses receiving diagnostic and admin notifications.
func (c *Config) Operators() []string {
	return []string{c.FromEmail, c.SuperuserEmail}
}

// Address is the database "host:port".
func (c DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
