package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds agent configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Host    string
		APIKey  string
		Timeout time.Duration
	}
	Client struct {
		Type     string
		Host     string
		Port     int
		Username string
		Password string
	}
	Database struct {
		Path string
	}
	Agent struct {
		Interval time.Duration
	}
	HTTP struct {
		Addr string
	}
	Log struct {
		Level  string
		Syslog bool
	}
	Secret struct {
		KeyPath string
	}
}

// Load reads configuration from environment variables and the optional config
// file named by CDM_CONFIG, or config.* in the working directory or
// ~/.config/cdm_client.
func Load() (Config, error) {
	loadDotEnv()
	return LoadFile(os.Getenv("CDM_CONFIG"))
}

// LoadFile is Load with an explicit config file. An empty path searches the default locations.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CDM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home := homeDir()
	v.SetDefault("server.host", "")
	v.SetDefault("server.apikey", "")
	v.SetDefault("server.timeout", 5*time.Second)
	v.SetDefault("client.type", "transmission")
	v.SetDefault("client.host", "127.0.0.1")
	v.SetDefault("client.port", 0)
	v.SetDefault("client.username", "")
	v.SetDefault("client.password", "")
	v.SetDefault("database.path", DefaultDatabasePath())
	v.SetDefault("agent.interval", 5*time.Second)
	v.SetDefault("http.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.syslog", false)
	v.SetDefault("secret.keypath", filepath.Join(home, ".config", "cdm_client", "key.key"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(home, ".config", "cdm_client"))
		_ = v.ReadInConfig() // optional file
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	password, err := revealPassword(v, cfg.Secret.KeyPath)
	if err != nil {
		return Config{}, err
	}
	cfg.Client.Password = password

	return cfg, nil
}

// revealPassword decrypts a sealed client password. A plaintext password read
// from the config file is sealed and written back to that file.
func revealPassword(v *viper.Viper, keyPath string) (string, error) {
	password := v.GetString("client.password")
	if password == "" {
		return "", nil
	}
	if IsSealed(password) {
		sealer, err := LoadSealer(keyPath)
		if err != nil {
			return "", err
		}
		plain, err := sealer.Open(password)
		if err != nil {
			return "", fmt.Errorf("client.password: %w", err)
		}
		return plain, nil
	}

	file := v.ConfigFileUsed()
	if file == "" || !v.InConfig("client.password") || os.Getenv("CDM_CLIENT_PASSWORD") != "" {
		return password, nil
	}
	sealer, err := LoadSealer(keyPath)
	if err != nil {
		return "", err
	}
	sealed, err := sealer.Seal(password)
	if err != nil {
		return "", err
	}
	if err := rewriteKey(file, "client.password", sealed); err != nil {
		return "", err
	}
	return password, nil
}

// rewriteKey updates a single key in a config file without pulling env or defaults into it.
func rewriteKey(file, key, value string) error {
	fv := viper.New()
	fv.SetConfigFile(file)
	if err := fv.ReadInConfig(); err != nil {
		return fmt.Errorf("reread config %s: %w", file, err)
	}
	fv.Set(key, value)
	if err := fv.WriteConfig(); err != nil {
		return fmt.Errorf("write config %s: %w", file, err)
	}
	return nil
}

// DefaultDatabasePath is the mapping database shared by the agent and the migration tool.
func DefaultDatabasePath() string {
	return filepath.Join(homeDir(), ".local", "share", "cdm_client", "cdm_client.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.Trim(strings.TrimSpace(line[partsIndex+1:]), `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
