package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "RAGLITE_"

// ApplyEnv overrides cfg with RAGLITE_* environment variables and expands ${VAR}
// references in model API keys.
func ApplyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "HOST")
	setInt(&cfg.Server.Port, "PORT")
	setBool(&cfg.Debug, "DEBUG")
	setString(&cfg.Storage.DatabasePath, "DATABASE_PATH")

	setString(&cfg.Blob.Backend, "OBJECT_STORE_BACKEND")
	setString(&cfg.Blob.Root, "OBJECT_STORE_ROOT")
	setString(&cfg.Blob.S3Endpoint, "S3_ENDPOINT")
	setString(&cfg.Blob.S3Region, "S3_REGION")
	setString(&cfg.Blob.S3AccessKey, "S3_ACCESS_KEY")
	setString(&cfg.Blob.S3SecretKey, "S3_SECRET_KEY")
	setString(&cfg.Blob.S3Bucket, "S3_BUCKET")
	setString(&cfg.Blob.S3Prefix, "S3_PREFIX")
	setBool(&cfg.Blob.S3Secure, "S3_SECURE")

	setInt(&cfg.Chunking.Size, "CHUNK_SIZE")
	setInt(&cfg.Chunking.Overlap, "CHUNK_OVERLAP")
	setString(&cfg.Embedding.DefaultModel, "DEFAULT_EMBEDDER")

	setString(&cfg.Vector.Backend, "VECTOR_BACKEND")
	setString(&cfg.Vector.QdrantURL, "QDRANT_URL")
	setString(&cfg.Vector.QdrantAPIKey, "QDRANT_API_KEY")
	setString(&cfg.Vector.PostgresDSN, "POSTGRES_DSN")

	if v, ok := lookup("ENABLE_BM25"); ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			cfg.Lexical.Enabled = &b
		}
	}
	setString(&cfg.Lexical.OpenSearchURL, "OPENSEARCH_URL")
	setString(&cfg.Lexical.OpenSearchUser, "OPENSEARCH_USER")
	setString(&cfg.Lexical.OpenSearchPassword, "OPENSEARCH_PASSWORD")
	setString(&cfg.Lexical.IndexPrefix, "OPENSEARCH_INDEX_PREFIX")

	if v, ok := lookup("DEFAULT_MIN_SCORE"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Search.DefaultMinScore = f
		}
	}
	setString(&cfg.Search.DefaultChatModel, "DEFAULT_CHAT_MODEL")
	setString(&cfg.Watch.Inbox, "INBOX")

	for i := range cfg.Models {
		cfg.Models[i].APIKey = os.ExpandEnv(cfg.Models[i].APIKey)
		cfg.Models[i].Endpoint = os.ExpandEnv(cfg.Models[i].Endpoint)
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
