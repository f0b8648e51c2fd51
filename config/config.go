package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	RerankHTTP    = "http"
	RerankLexical = "lexical"
	RerankNone    = "none"

	TranslationLibre = "libretranslate"
	TranslationLLM   = "llm"
	TranslationNone  = "none"
)

const DefaultDisclaimer = "Disclaimer: This response is for educational purposes only. For official determinations, please consult the IRB through VIRBS."

type Config struct {
	DataDir            string `yaml:"data_dir" validate:"required"`
	PromptTemplatePath string `yaml:"prompt_template"`
	InteractionLogPath string `yaml:"interaction_log"`
	HTTPAddr           string `yaml:"http_addr" validate:"required"`
	Disclaimer         string `yaml:"disclaimer"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	PostgresDSN string `yaml:"postgres_dsn"`
	Neo4jURI    string `yaml:"neo4j_uri"`
	Neo4jUser   string `yaml:"neo4j_username"`
	Neo4jPass   string `yaml:"-"`
	GraphSync   bool   `yaml:"graph_sync"`

	Log         LogConfig         `yaml:"log"`
	Embeddings  EmbeddingConfig   `yaml:"embeddings"`
	LLM         LLMConfig         `yaml:"llm"`
	Index       IndexConfig       `yaml:"index"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Rerank      RerankConfig      `yaml:"rerank"`
	Translation TranslationConfig `yaml:"translation"`
	Metadata    MetadataConfig    `yaml:"metadata"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

type EmbeddingConfig struct {
	Provider          string  `yaml:"provider" validate:"oneof=ollama openai"`
	Model             string  `yaml:"model" validate:"required"`
	Dimension         int     `yaml:"dimension" validate:"gte=0"`
	BatchSize         int     `yaml:"batch_size" validate:"gte=1"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider" validate:"oneof=ollama openai"`
	Model       string        `yaml:"model" validate:"required"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	Temperature float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	// ContextWindow is passed to Ollama as num_ctx; assembled prompts outgrow its 2048 default.
	ContextWindow int `yaml:"context_window" validate:"gte=0"`
}

type IndexConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=sqlite postgres"`
	Collection string `yaml:"collection" validate:"required"`
	PersistDir string `yaml:"persist_dir" validate:"required_if=Backend sqlite"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size" validate:"gte=1"`
	Overlap int `yaml:"overlap" validate:"gte=0,ltfield=Size"`
	Workers int `yaml:"workers" validate:"gte=1"`
}

type RetrievalConfig struct {
	TopN int `yaml:"top_n" validate:"gte=1"`
	TopM int `yaml:"top_m" validate:"gte=1,ltefield=TopN"`
}

type RerankConfig struct {
	Provider string `yaml:"provider" validate:"oneof=http lexical none"`
	Endpoint string `yaml:"endpoint" validate:"required_if=Provider http"`
	Model    string `yaml:"model"`
}

type TranslationConfig struct {
	Provider            string  `yaml:"provider" validate:"oneof=libretranslate llm none"`
	Endpoint            string  `yaml:"endpoint" validate:"required_if=Provider libretranslate"`
	APIKey              string  `yaml:"-"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	MinQueryLength      int     `yaml:"min_query_length" validate:"gte=0"`
	SegmentSize         int     `yaml:"segment_size" validate:"gte=1"`
}

type MetadataConfig struct {
	SkipDocuments []string `yaml:"skip_documents"`
}

// Default returns the built-in configuration before any file or environment overrides.
func Default() Config {
	return Config{
		DataDir:            "data/documents",
		InteractionLogPath: "logs/rag_logs.jsonl",
		HTTPAddr:           ":5000",
		Disclaimer:         DefaultDisclaimer,
		OllamaHost:         "http://localhost:11434",
		PostgresDSN:        "postgres://localhost:5432/policy-rag?sslmode=disable",
		Neo4jURI:           "neo4j://localhost:7687",
		Neo4jUser:          "neo4j",
		Neo4jPass:          "password",
		Log:                LogConfig{Level: "info", Format: "console"},
		Embeddings: EmbeddingConfig{
			Provider:  ProviderOllama,
			Model:     "nomic-embed-text",
			BatchSize: 32,
		},
		LLM: LLMConfig{
			Provider:      ProviderOllama,
			Model:         "llama3.1",
			Timeout:       2 * time.Minute,
			ContextWindow: 8192,
		},
		Index: IndexConfig{
			Backend:    BackendSQLite,
			Collection: "hrpp_docs",
			PersistDir: "data/index",
		},
		Chunking:  ChunkingConfig{Size: 512, Overlap: 30, Workers: 4},
		Retrieval: RetrievalConfig{TopN: 20, TopM: 10},
		Rerank:    RerankConfig{Provider: RerankLexical},
		Translation: TranslationConfig{
			Provider:            TranslationNone,
			ConfidenceThreshold: 0.90,
			MinQueryLength:      10,
			SegmentSize:         5000,
		},
		Metadata: MetadataConfig{
			SkipDocuments: []string{"HRP General Documents", "HRP Templates"},
		},
	}
}

// LoadFile layers a YAML file over the defaults, then the environment over both.
// A .env file is read first when present; an empty path skips the YAML step. The result is validated.
func LoadFile(path string) (Config, error) {
	_ = godotenv.Load()
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints such as TopM <= TopN and the confidence range.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(parts, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	// OpenAI-compatible servers reached through a base URL may run without a key.
	if c.Embeddings.Provider == ProviderOpenAI && c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
		return fmt.Errorf("invalid configuration: openai embeddings selected but neither OPENAI_API_KEY nor OPENAI_BASE_URL set")
	}
	if c.LLM.Provider == ProviderOpenAI && c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" && c.LLM.BaseURL == "" {
		return fmt.Errorf("invalid configuration: openai llm selected but neither OPENAI_API_KEY nor a base URL set")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.PromptTemplatePath = getEnv("PROMPT_TEMPLATE", cfg.PromptTemplatePath)
	cfg.InteractionLogPath = getEnv("INTERACTION_LOG", cfg.InteractionLogPath)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Disclaimer = getEnv("DISCLAIMER", cfg.Disclaimer)

	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)

	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.Neo4jURI = getEnv("NEO4J_URI", cfg.Neo4jURI)
	cfg.Neo4jUser = getEnv("NEO4J_USERNAME", cfg.Neo4jUser)
	cfg.Neo4jPass = getEnv("NEO4J_PASSWORD", cfg.Neo4jPass)
	cfg.GraphSync = getEnvBool("GRAPH_SYNC", cfg.GraphSync)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Embeddings.Provider = getEnv("EMBEDDING_PROVIDER", cfg.Embeddings.Provider)
	cfg.Embeddings.Model = getEnv("EMBEDDING_MODEL", cfg.Embeddings.Model)
	cfg.Embeddings.Dimension = getEnvInt("EMBEDDING_DIMENSION", cfg.Embeddings.Dimension)
	cfg.Embeddings.BatchSize = getEnvInt("EMBEDDING_BATCH_SIZE", cfg.Embeddings.BatchSize)
	cfg.Embeddings.RequestsPerSecond = getEnvFloat("EMBEDDING_RPS", cfg.Embeddings.RequestsPerSecond)

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", cfg.LLM.Timeout)
	cfg.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", cfg.LLM.Temperature)
	cfg.LLM.ContextWindow = getEnvInt("LLM_CONTEXT_WINDOW", cfg.LLM.ContextWindow)

	cfg.Index.Backend = getEnv("INDEX_BACKEND", cfg.Index.Backend)
	cfg.Index.Collection = getEnv("COLLECTION_NAME", cfg.Index.Collection)
	cfg.Index.PersistDir = getEnv("PERSIST_DIR", cfg.Index.PersistDir)

	cfg.Chunking.Size = getEnvInt("CHUNK_SIZE", cfg.Chunking.Size)
	cfg.Chunking.Overlap = getEnvInt("CHUNK_OVERLAP", cfg.Chunking.Overlap)
	cfg.Chunking.Workers = getEnvInt("INGEST_WORKERS", cfg.Chunking.Workers)

	cfg.Retrieval.TopN = getEnvInt("RETRIEVAL_TOP_N", cfg.Retrieval.TopN)
	cfg.Retrieval.TopM = getEnvInt("RERANK_TOP_M", cfg.Retrieval.TopM)

	cfg.Rerank.Provider = getEnv("RERANK_PROVIDER", cfg.Rerank.Provider)
	cfg.Rerank.Endpoint = getEnv("RERANK_ENDPOINT", cfg.Rerank.Endpoint)
	cfg.Rerank.Model = getEnv("RERANK_MODEL", cfg.Rerank.Model)

	cfg.Translation.Provider = getEnv("TRANSLATION_PROVIDER", cfg.Translation.Provider)
	cfg.Translation.Endpoint = getEnv("TRANSLATION_ENDPOINT", cfg.Translation.Endpoint)
	cfg.Translation.APIKey = getEnv("TRANSLATION_API_KEY", cfg.Translation.APIKey)
	cfg.Translation.ConfidenceThreshold = getEnvFloat("TRANSLATION_CONFIDENCE", cfg.Translation.ConfidenceThreshold)
	cfg.Translation.MinQueryLength = getEnvInt("TRANSLATION_MIN_QUERY_LENGTH", cfg.Translation.MinQueryLength)
	cfg.Translation.SegmentSize = getEnvInt("TRANSLATION_SEGMENT_SIZE", cfg.Translation.SegmentSize)

	cfg.Metadata.SkipDocuments = getEnvList("METADATA_SKIP", cfg.Metadata.SkipDocuments)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

// getEnvList splits a comma separated value; blank entries are dropped.
func getEnvList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
