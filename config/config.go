package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	SFU           SFUConfig
	Forking       ForkingConfig
	Transcription TranscriptionConfig
	Bootstrap     BootstrapConfig
	JWT           JWTConfig
}

// ServerConfig holds HTTP/WS listener settings.
type ServerConfig struct {
	Port               string
	HTTPSPort          string
	TLSKeyPath         string
	TLSCertPath        string
	CORSAllowedOrigins string
	ReadTimeout        int
	WriteTimeout       int
}

// DatabaseConfig holds the SQLite + sqlite-vec storage locations.
type DatabaseConfig struct {
	Path         string
	VecExtension string
}

// SFUConfig holds the addresses the SFU adapter advertises to media peers.
type SFUConfig struct {
	ListenIP    string
	AnnouncedIP string
	RTCMinPort  int
	RTCMaxPort  int
}

// ForkingConfig holds the two disjoint UDP port ranges used by the RTP
// Forker for recording and transcription side-car consumers.
type ForkingConfig struct {
	RecordingPortMin     int
	RecordingPortMax     int
	TranscriptionPortMin int
	TranscriptionPortMax int
	RecordingDir         string
}

// TranscriptionConfig holds the speech-to-text engine's model location and
// feature gates.
type TranscriptionConfig struct {
	ModelDir             string
	ModelSize            string
	TranscriptionEnabled bool
	EmbeddingEnabled     bool
	TranscriberBin       string
	Threads              int
	EmbeddingServiceURL  string
}

// BootstrapConfig auto-provisions a default tenant and room for
// single-operator deployments.
type BootstrapConfig struct {
	SingleTenant bool
	AdminKey     string
	SFUSecret    string
}

// JWTConfig holds the signing secret for tenant bearer tokens issued at the
// REST boundary.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Load("env")

	jwtExpire := getEnvInt("JWT_EXPIRE_HOURS", 24)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			HTTPSPort:          getEnv("HTTPS_PORT", "8443"),
			TLSKeyPath:         getEnv("TLS_KEY_PATH", ""),
			TLSCertPath:        getEnv("TLS_CERT_PATH", ""),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SECONDS", 0),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SECONDS", 0),
		},
		Database: DatabaseConfig{
			Path:         getEnv("DB_PATH", "./data/soundcast.db"),
			VecExtension: getEnv("SQLITE_VEC_PATH", ""),
		},
		SFU: SFUConfig{
			ListenIP:    getEnv("LISTEN_IP", "0.0.0.0"),
			AnnouncedIP: getEnv("ANNOUNCED_IP", "127.0.0.1"),
			RTCMinPort:  getEnvInt("RTC_MIN_PORT", 40000),
			RTCMaxPort:  getEnvInt("RTC_MAX_PORT", 49999),
		},
		Forking: ForkingConfig{
			RecordingPortMin:     getEnvInt("RECORDING_RTP_PORT_MIN", 50000),
			RecordingPortMax:     getEnvInt("RECORDING_RTP_PORT_MAX", 50999),
			TranscriptionPortMin: getEnvInt("TRANSCRIPTION_RTP_PORT_MIN", 51000),
			TranscriptionPortMax: getEnvInt("TRANSCRIPTION_RTP_PORT_MAX", 51999),
			RecordingDir:         getEnv("RECORDING_DIR", "./recordings"),
		},
		Transcription: TranscriptionConfig{
			ModelDir:             getEnv("WHISPER_MODEL_DIR", "./models"),
			ModelSize:            getEnv("WHISPER_MODEL_SIZE", "base"),
			TranscriptionEnabled: getEnvBool("TRANSCRIPTION_ENABLED", false),
			EmbeddingEnabled:     getEnvBool("EMBEDDING_ENABLED", false),
			TranscriberBin:       getEnv("WHISPER_STREAM_BIN", "whisper-stream"),
			Threads:              getEnvInt("WHISPER_THREADS", 4),
			EmbeddingServiceURL:  getEnv("EMBEDDING_SERVICE_URL", "http://127.0.0.1:8090/embed"),
		},
		Bootstrap: BootstrapConfig{
			SingleTenant: getEnvBool("SINGLE_TENANT", false),
			AdminKey:     getEnv("ADMIN_KEY", ""),
			SFUSecret:    getEnv("SFU_STATS_SECRET", ""),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
