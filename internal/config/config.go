package config

import (
	"os"
	"time"
)

type Config struct {
	// AppID namespaces every store path (artifacts/{AppID}/public/data/...),
	// so several deployments can share one backend project.
	AppID string

	// Firebase backend.
	FirebaseProjectID       string
	FirebaseAPIKey          string
	FirebaseCredentialsJSON string

	// InitialAuthToken is an optional bootstrap custom token exchanged for a
	// session at startup. Exchange failure falls back to anonymous sign-in.
	InitialAuthToken string

	// GoogleIDToken is the OAuth assertion consumed by provider sign-in in
	// headless runs; interactive acquisition is out of scope for this layer.
	GoogleIDToken string

	// Alternate MongoDB backend, used when set and Firebase is not configured.
	MongoURI      string
	MongoDatabase string

	// DataDir holds the demo mode's JSON snapshot.
	DataDir string

	WriteTimeout time.Duration
}

func Load() *Config {
	return &Config{
		AppID:                   getEnv("APP_ID", "inkwell"),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseAPIKey:          getEnv("FIREBASE_API_KEY", ""),
		FirebaseCredentialsJSON: getEnv("FIREBASE_CREDENTIALS_JSON", ""),
		InitialAuthToken:        getEnv("INITIAL_AUTH_TOKEN", ""),
		GoogleIDToken:           getEnv("GOOGLE_ID_TOKEN", ""),
		MongoURI:                getEnv("MONGODB_URI", ""),
		MongoDatabase:           getEnv("MONGODB_DATABASE", "inkwell"),
		DataDir:                 getEnv("DATA_DIR", "./data"),
		WriteTimeout:            getEnvDuration("WRITE_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
