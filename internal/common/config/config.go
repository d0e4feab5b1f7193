// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	GenAI        GenAIConfig        `mapstructure:"genai"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Branches     BranchesConfig     `mapstructure:"branches"`
	Synthesizer  SynthesizerConfig  `mapstructure:"synthesizer"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Escalation   EscalationConfig   `mapstructure:"escalation"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address        string `mapstructure:"address"`
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Component Configuration ---

// GenAIConfig covers the external inference service boundary.
type GenAIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
	MaxRetries int    `mapstructure:"max_retries"`
}

// OrchestratorConfig controls the fan-out/fan-in supervisor.
type OrchestratorConfig struct {
	BranchTimeout  int `mapstructure:"branch_timeout"`  // milliseconds, per branch
	RequestTimeout int `mapstructure:"request_timeout"` // milliseconds, whole request
}

func (o OrchestratorConfig) BranchTimeoutDuration() time.Duration {
	return time.Duration(o.BranchTimeout) * time.Millisecond
}

func (o OrchestratorConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(o.RequestTimeout) * time.Millisecond
}

type BranchesConfig struct {
	SQL        SQLBranchConfig        `mapstructure:"sql"`
	Policy     PolicyBranchConfig     `mapstructure:"policy"`
	Simulation SimulationBranchConfig `mapstructure:"simulation"`
}

type SQLBranchConfig struct {
	Timeout int `mapstructure:"timeout"` // milliseconds
}

type PolicyBranchConfig struct {
	Index    string  `mapstructure:"index"`
	TopK     int     `mapstructure:"top_k"`
	MinScore float64 `mapstructure:"min_score"`
	Timeout  int     `mapstructure:"timeout"` // milliseconds
}

type SimulationBranchConfig struct {
	MinTopupAmount float64 `mapstructure:"min_topup_amount"`
}

type SynthesizerConfig struct {
	PreferPrimary bool    `mapstructure:"prefer_primary"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
}

type AuditConfig struct {
	Stream    string `mapstructure:"stream"`
	MaxLen    int64  `mapstructure:"max_len"`
	UseMemory bool   `mapstructure:"use_memory"` // in-memory sink instead of redis
}

type EscalationConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Region   string `mapstructure:"region"`
	TopicARN string `mapstructure:"topic_arn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
