// Package config loads process settings from an optional .env file and
// MEDICHAIN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every variable name read by Load.
const EnvPrefix = "MEDICHAIN_"

// Config is the resolved process configuration.
type Config struct {
	StorageDriver string
	SQLitePath    string
	PostgresDSN   string
	LevelDBPath   string

	BlobDriver string
	BlobFSRoot string
	BlobS3     S3Config

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	LogLevel  string
	LogFormat string

	AdminAddress string
}

// S3Config carries the archive bucket settings.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		StorageDriver: "sqlite",
		SQLitePath:    "medichain.db",
		PostgresDSN:   "postgres://localhost/medichain?sslmode=disable",
		LevelDBPath:   "medichain.ldb",
		BlobDriver:    "fs",
		BlobFSRoot:    "./blobdata",
		BlobS3:        S3Config{Region: "us-east-1"},
		RedisChannel:  "medichain.notifications",
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load reads files (default ".env") into the environment without overriding
// variables that are already set, then resolves the configuration. A missing
// env file is not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv resolves the configuration through lookup.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	get := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	get("STORAGE_DRIVER", &cfg.StorageDriver)
	get("SQLITE_PATH", &cfg.SQLitePath)
	get("POSTGRES_DSN", &cfg.PostgresDSN)
	get("LEVELDB_PATH", &cfg.LevelDBPath)
	get("BLOB_DRIVER", &cfg.BlobDriver)
	get("BLOB_FS_ROOT", &cfg.BlobFSRoot)
	get("BLOB_S3_BUCKET", &cfg.BlobS3.Bucket)
	get("BLOB_S3_REGION", &cfg.BlobS3.Region)
	get("BLOB_S3_ENDPOINT", &cfg.BlobS3.Endpoint)
	get("BLOB_S3_PREFIX", &cfg.BlobS3.Prefix)
	get("BLOB_S3_ACCESS_KEY_ID", &cfg.BlobS3.AccessKeyID)
	get("BLOB_S3_SECRET_ACCESS_KEY", &cfg.BlobS3.SecretAccessKey)
	get("REDIS_ADDR", &cfg.RedisAddr)
	get("REDIS_PASSWORD", &cfg.RedisPassword)
	get("REDIS_CHANNEL", &cfg.RedisChannel)
	get("LOG_LEVEL", &cfg.LogLevel)
	get("LOG_FORMAT", &cfg.LogFormat)
	get("ADMIN_ADDRESS", &cfg.AdminAddress)

	var pathStyle string
	get("BLOB_S3_PATH_STYLE", &pathStyle)
	if pathStyle != "" {
		b, err := strconv.ParseBool(pathStyle)
		if err != nil {
			return Config{}, fmt.Errorf("%sBLOB_S3_PATH_STYLE: %w", EnvPrefix, err)
		}
		cfg.BlobS3.PathStyle = b
	}
	var redisDB string
	get("REDIS_DB", &redisDB)
	if redisDB != "" {
		n, err := strconv.Atoi(redisDB)
		if err != nil {
			return Config{}, fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err)
		}
		cfg.RedisDB = n
	}
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	cfg.BlobDriver = strings.ToLower(cfg.BlobDriver)
	return cfg, nil
}
