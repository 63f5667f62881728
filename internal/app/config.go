package app

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr         string
	MongoURI         string
	MongoDatabase    string
	LogLevel         string
	LogFormat        string
	DownloadLocation string
	MaxConcurrent    int
	FFMPEGPath       string
	FFProbePath      string
	ForceTranscoding bool
	NoPeersTimeoutS  int64 // seconds without peers before a download is declared dead
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:    getEnv("MONGO_DB", "mediaengine"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		DownloadLocation: getEnv("DOWNLOAD_LOCATION", "downloads"),
		MaxConcurrent:    int(getEnvInt64("MAX_CONCURRENT", 1)),
		FFMPEGPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:      getEnv("FFPROBE_PATH", "ffprobe"),
		ForceTranscoding: getEnvBool("FORCE_TRANSCODING", false),
		NoPeersTimeoutS:  getEnvInt64("NO_PEERS_TIMEOUT_SECONDS", 90),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "":
		return fallback
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
