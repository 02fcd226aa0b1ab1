package config

import "strings"

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Workspace WorkspaceConfig
	API       APIConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type StorageConfig struct {
	DataDir string
}

type WorkspaceConfig struct {
	Dir        string
	BackupDir  string
	ScriptsDir string
}

type APIConfig struct {
	// Token protects the privileged API routes. Empty disables them.
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8300,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.leona.app) and the API
// token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/leona/config.json
// and the token falls back to a secrets file under $XDG_DATA_HOME/leona.
//
// Environment variables (LEONA_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// The API token is optional; without it the privileged routes stay off.
	if cfg.API.Token == "" {
		if token, err := kc.Get("leona", "api_token"); err == nil && token != "" {
			cfg.API.Token = token
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
