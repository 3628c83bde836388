package config

import (
	"context"
	"time"
)

// Config is the complete runtime configuration for the router service.
type Config struct {
	LLM           LLMConfig           `koanf:"llm"            json:"llm"            validate:"required"`
	DocumentAgent DocumentAgentConfig `koanf:"document_agent" json:"document_agent" validate:"required"`
	GraphAgent    GraphAgentConfig    `koanf:"graph_agent"    json:"graph_agent"    validate:"required"`
	Orchestrator  OrchestratorConfig  `koanf:"orchestrator"   json:"orchestrator"`
	Mongo         MongoConfig         `koanf:"mongo"          json:"mongo"`
	Neo4j         Neo4jConfig         `koanf:"neo4j"          json:"neo4j"`
	Postgres      PostgresConfig      `koanf:"postgres"       json:"postgres"`
	Redis         RedisConfig         `koanf:"redis"          json:"redis"`
	Server        ServerConfig        `koanf:"server"         json:"server"`
	Monitoring    MonitoringConfig    `koanf:"monitoring"     json:"monitoring"`
	Eval          EvalConfig          `koanf:"eval"           json:"eval"`
}

// LLMConfig selects the model provider used by every agent.
type LLMConfig struct {
	Provider          string          `koanf:"provider"            json:"provider"            validate:"required,oneof=openai anthropic ollama" env:"LLM_PROVIDER"`
	Model             string          `koanf:"model"               json:"model"               validate:"required"                               env:"LLM_MODEL"`
	JudgeModel        string          `koanf:"judge_model"         json:"judge_model"                                                           env:"LLM_JUDGE_MODEL"`
	EmbeddingModel    string          `koanf:"embedding_model"     json:"embedding_model"                                                       env:"LLM_EMBEDDING_MODEL"`
	APIKey            SensitiveString `koanf:"api_key"             json:"api_key"                                                               env:"LLM_API_KEY"             sensitive:"true"`
	BaseURL           string          `koanf:"base_url"            json:"base_url"                                                              env:"LLM_BASE_URL"`
	Temperature       float64         `koanf:"temperature"         json:"temperature"         validate:"min=0,max=2"                            env:"LLM_TEMPERATURE"`
	MaxTokens         int             `koanf:"max_tokens"          json:"max_tokens"          validate:"min=0"                                  env:"LLM_MAX_TOKENS"`
	Timeout           time.Duration   `koanf:"timeout"             json:"timeout"                                                               env:"LLM_TIMEOUT"`
	RequestsPerMinute float64         `koanf:"requests_per_minute" json:"requests_per_minute" validate:"min=0"                                  env:"LLM_REQUESTS_PER_MINUTE"`
	MaxConcurrency    int64           `koanf:"max_concurrency"     json:"max_concurrency"     validate:"min=0"                                  env:"LLM_MAX_CONCURRENCY"`
	InputCostPer1K    float64         `koanf:"input_cost_per_1k"   json:"input_cost_per_1k"   validate:"min=0"                                  env:"LLM_INPUT_COST_PER_1K"`
	OutputCostPer1K   float64         `koanf:"output_cost_per_1k"  json:"output_cost_per_1k"  validate:"min=0"                                  env:"LLM_OUTPUT_COST_PER_1K"`
	RetryAttempts     int             `koanf:"retry_attempts"      json:"retry_attempts"      validate:"min=1"                                  env:"LLM_RETRY_ATTEMPTS"`
	RetryBackoff      time.Duration   `koanf:"retry_backoff"       json:"retry_backoff"                                                         env:"LLM_RETRY_BACKOFF"`
}

// DocumentAgentConfig carries the document agent budget and search settings.
type DocumentAgentConfig struct {
	InitialMaxToolCalls  int    `koanf:"initial_max_tool_calls"  json:"initial_max_tool_calls"  validate:"min=1"             env:"DOCUMENT_AGENT_INITIAL_MAX_TOOL_CALLS"`
	ExtendedMaxToolCalls int    `koanf:"extended_max_tool_calls" json:"extended_max_tool_calls" validate:"min=1"             env:"DOCUMENT_AGENT_EXTENDED_MAX_TOOL_CALLS"`
	EnableAdaptiveLimit  bool   `koanf:"enable_adaptive_limit"   json:"enable_adaptive_limit"                                env:"DOCUMENT_AGENT_ENABLE_ADAPTIVE_LIMIT"`
	NumResults           int    `koanf:"num_results"             json:"num_results"             validate:"min=1,max=50"      env:"DOCUMENT_AGENT_NUM_RESULTS"`
	IndexKind            string `koanf:"index_kind"              json:"index_kind"              validate:"oneof=text vector" env:"DOCUMENT_AGENT_INDEX_KIND"`
}

// GraphAgentConfig carries the graph agent budget plus its source filter.
type GraphAgentConfig struct {
	InitialMaxToolCalls  int    `koanf:"initial_max_tool_calls"  json:"initial_max_tool_calls"  validate:"min=1"  env:"GRAPH_AGENT_INITIAL_MAX_TOOL_CALLS"`
	ExtendedMaxToolCalls int    `koanf:"extended_max_tool_calls" json:"extended_max_tool_calls" validate:"min=1"  env:"GRAPH_AGENT_EXTENDED_MAX_TOOL_CALLS"`
	EnableAdaptiveLimit  bool   `koanf:"enable_adaptive_limit"   json:"enable_adaptive_limit"                     env:"GRAPH_AGENT_ENABLE_ADAPTIVE_LIMIT"`
	SourcePattern        string `koanf:"source_pattern"          json:"source_pattern"          validate:"regexp" env:"GRAPH_AGENT_SOURCE_PATTERN"`
}

type OrchestratorConfig struct {
	QueryTimeout time.Duration `koanf:"query_timeout" json:"query_timeout" env:"ORCHESTRATOR_QUERY_TIMEOUT"`
	RunLog       bool          `koanf:"run_log"       json:"run_log"       env:"ORCHESTRATOR_RUN_LOG"`
}

type MongoConfig struct {
	URI        SensitiveString `koanf:"uri"        json:"uri"        env:"MONGO_URI"        sensitive:"true"`
	Database   string          `koanf:"database"   json:"database"   env:"MONGO_DATABASE"`
	Collection string          `koanf:"collection" json:"collection" env:"MONGO_COLLECTION"`
}

type Neo4jConfig struct {
	URI               string          `koanf:"uri"                  json:"uri"                                   env:"NEO4J_URI"`
	User              string          `koanf:"user"                 json:"user"                                  env:"NEO4J_USER"`
	Password          SensitiveString `koanf:"password"             json:"password"                              env:"NEO4J_PASSWORD"             sensitive:"true"`
	Database          string          `koanf:"database"             json:"database"                              env:"NEO4J_DATABASE"`
	MaxQueryResults   int             `koanf:"max_query_results"    json:"max_query_results"    validate:"min=1" env:"NEO4J_MAX_QUERY_RESULTS"`
	MaxToolResultSize int             `koanf:"max_tool_result_size" json:"max_tool_result_size" validate:"min=1" env:"NEO4J_MAX_TOOL_RESULT_SIZE"`
	MaxSchemaTokens   int             `koanf:"max_schema_tokens"    json:"max_schema_tokens"    validate:"min=0" env:"NEO4J_MAX_SCHEMA_TOKENS"`
	SchemaCacheTTL    time.Duration   `koanf:"schema_cache_ttl"     json:"schema_cache_ttl"                      env:"NEO4J_SCHEMA_CACHE_TTL"`
}

type PostgresConfig struct {
	DSN         SensitiveString `koanf:"dsn"          json:"dsn"                           env:"POSTGRES_DSN"          sensitive:"true"`
	VectorTable string          `koanf:"vector_table" json:"vector_table"                  env:"POSTGRES_VECTOR_TABLE"`
	Dimension   int             `koanf:"dimension"    json:"dimension"    validate:"min=0" env:"POSTGRES_DIMENSION"`
	AutoMigrate bool            `koanf:"auto_migrate" json:"auto_migrate"                  env:"POSTGRES_AUTO_MIGRATE"`
	// MigrationLock names the advisory lock held while migrating.
	MigrationLock        string        `koanf:"migration_lock"         json:"migration_lock"         validate:"required" env:"POSTGRES_MIGRATION_LOCK"`
	MigrationLockTimeout time.Duration `koanf:"migration_lock_timeout" json:"migration_lock_timeout" validate:"min=0"    env:"POSTGRES_MIGRATION_LOCK_TIMEOUT"`
}

type RedisConfig struct {
	Addr     string          `koanf:"addr"     json:"addr"     env:"REDIS_ADDR"`
	Password SensitiveString `koanf:"password" json:"password" env:"REDIS_PASSWORD" sensitive:"true"`
	DB       int             `koanf:"db"       json:"db"       env:"REDIS_DB"`
}

type ServerConfig struct {
	Host        string   `koanf:"host"         json:"host"         validate:"required"        env:"SERVER_HOST"`
	Port        int      `koanf:"port"         json:"port"         validate:"min=1,max=65535" env:"SERVER_PORT"`
	CORSOrigins []string `koanf:"cors_origins" json:"cors_origins"                            env:"SERVER_CORS_ORIGINS"`
}

// MonitoringConfig controls the Prometheus endpoint served next to the API.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled"                         env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    json:"path"    validate:"startswith=/" env:"MONITORING_PATH"`
}

// EvalConfig holds the combined score weights and judge retry policy.
type EvalConfig struct {
	Alpha         float64       `koanf:"alpha"          json:"alpha"          validate:"min=0" env:"EVAL_ALPHA"`
	Beta          float64       `koanf:"beta"           json:"beta"           validate:"min=0" env:"EVAL_BETA"`
	Gamma         float64       `koanf:"gamma"          json:"gamma"          validate:"min=0" env:"EVAL_GAMMA"`
	TokenDivisor  float64       `koanf:"token_divisor"  json:"token_divisor"  validate:"gt=0"  env:"EVAL_TOKEN_DIVISOR"`
	JudgeAttempts int           `koanf:"judge_attempts" json:"judge_attempts" validate:"min=1" env:"EVAL_JUDGE_ATTEMPTS"`
	JudgeBackoff  time.Duration `koanf:"judge_backoff"  json:"judge_backoff"                   env:"EVAL_JUDGE_BACKOFF"`
}

// SensitiveString masks its value when printed or marshaled.
type SensitiveString string

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return "********"
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Value returns the unmasked secret.
func (s SensitiveString) Value() string {
	return string(s)
}

// Service defines the configuration management service interface.
type Service interface {
	Load(ctx context.Context, sources ...Source) (*Config, error)
	Validate(config *Config) error
	GetSource(key string) SourceType
}

// Source is one layer of configuration input.
type Source interface {
	Load() (map[string]any, error)
	Type() SourceType
}

type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata records which source provided each key.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			JudgeModel:        "gpt-4o-mini",
			EmbeddingModel:    "text-embedding-3-small",
			Temperature:       0,
			MaxTokens:         2048,
			Timeout:           60 * time.Second,
			RequestsPerMinute: 120,
			MaxConcurrency:    4,
			InputCostPer1K:    0.00015,
			OutputCostPer1K:   0.0006,
			RetryAttempts:     3,
			RetryBackoff:      500 * time.Millisecond,
		},
		DocumentAgent: DocumentAgentConfig{
			InitialMaxToolCalls:  3,
			ExtendedMaxToolCalls: 6,
			EnableAdaptiveLimit:  true,
			NumResults:           5,
			IndexKind:            "text",
		},
		GraphAgent: GraphAgentConfig{
			InitialMaxToolCalls:  5,
			ExtendedMaxToolCalls: 5,
			EnableAdaptiveLimit:  false,
			SourcePattern:        `^(question|node)_\d+$`,
		},
		Orchestrator: OrchestratorConfig{
			QueryTimeout: 3 * time.Minute,
			RunLog:       true,
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "stackexchange",
			Collection: "questions",
		},
		Neo4j: Neo4jConfig{
			URI:               "neo4j://localhost:7687",
			User:              "neo4j",
			Database:          "neo4j",
			MaxQueryResults:   100,
			MaxToolResultSize: 50000,
			MaxSchemaTokens:   4000,
			SchemaCacheTTL:    10 * time.Minute,
		},
		Postgres: PostgresConfig{
			VectorTable: "question_embeddings",
			Dimension:   1536,
			AutoMigrate: true,
			MigrationLock:        "ragrouter.migrations",
			MigrationLockTimeout: 45 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5001,
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Eval: EvalConfig{
			Alpha:         2.0,
			Beta:          0.5,
			Gamma:         1.5,
			TokenDivisor:  1000,
			JudgeAttempts: 3,
			JudgeBackoff:  time.Second,
		},
	}
}
