package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port           string
		LogLevel       string
		LogFormat      string
		GRPCHealthAddr string
	}
	Redis struct {
		URL string
	}
	Call struct {
		SessionTTL    time.Duration
		GhostTimeout  time.Duration
		FrameBytes    int
		FrameInterval time.Duration
		HistoryLimit  int
		AgentsFile    string
	}
	Deepgram struct {
		APIKey        string
		Model         string
		Language      string
		EndpointingMs int
		UtterEndMs    int
		WSURL         string
		MaxRetries    int
		Backoff       time.Duration
		TTSModel      string
	}
	TTS struct {
		Provider string // elevenlabs | deepgram
	}
	Eleven struct {
		APIKey  string
		VoiceID string
		ModelID string
	}
	LLM struct {
		BaseURL       string
		APIKey        string
		Model         string
		AzureEndpoint string
		AzureAPIKey   string
		Deployment    string
		APIVersion    string
		Temperature   float64
		MaxTokens     int
		MaxToolRounds int
		Timeout       time.Duration
	}
	Retrieval struct {
		URL   string
		Limit int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")

	v.SetDefault("call.session_ttl_seconds", 3600)
	v.SetDefault("call.ghost_timeout_seconds", 10)
	v.SetDefault("call.frame_bytes", 160)
	v.SetDefault("call.frame_ms", 20)
	v.SetDefault("call.history_limit", 20)

	v.SetDefault("deepgram.model", "nova-2-phonecall")
	v.SetDefault("deepgram.language", "en-US")
	v.SetDefault("deepgram.endpointing_ms", 300)
	v.SetDefault("deepgram.utterance_end_ms", 1000)
	v.SetDefault("deepgram.max_retries", 3)
	v.SetDefault("deepgram.backoff_ms", 500)
	v.SetDefault("deepgram.tts_model", "aura-asteria-en")

	v.SetDefault("tts.provider", "elevenlabs")
	v.SetDefault("elevenlabs.model_id", "eleven_turbo_v2_5")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_version", "2024-02-15-preview")
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.max_tool_rounds", 4)
	v.SetDefault("llm.timeout_seconds", 30)

	v.SetDefault("retrieval.limit", 3)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.log_format", "LOG_FORMAT")
	v.BindEnv("server.grpc_health_addr", "GRPC_HEALTH_ADDR")

	v.BindEnv("redis.url", "REDIS_URL")

	v.BindEnv("call.session_ttl_seconds", "SESSION_TTL_SECONDS")
	v.BindEnv("call.ghost_timeout_seconds", "GHOST_TIMEOUT_SECONDS")
	v.BindEnv("call.frame_bytes", "AUDIO_FRAME_BYTES")
	v.BindEnv("call.frame_ms", "AUDIO_FRAME_MS")
	v.BindEnv("call.history_limit", "HISTORY_LIMIT")
	v.BindEnv("call.agents_file", "AGENTS_FILE")

	v.BindEnv("deepgram.api_key", "DEEPGRAM_API_KEY")
	v.BindEnv("deepgram.model", "DEEPGRAM_MODEL")
	v.BindEnv("deepgram.language", "DEEPGRAM_LANGUAGE")
	v.BindEnv("deepgram.endpointing_ms", "DEEPGRAM_ENDPOINTING_MS")
	v.BindEnv("deepgram.utterance_end_ms", "DEEPGRAM_UTTERANCE_END_MS")
	v.BindEnv("deepgram.ws_url", "DEEPGRAM_WS_URL")
	v.BindEnv("deepgram.max_retries", "STT_MAX_RETRIES")
	v.BindEnv("deepgram.backoff_ms", "STT_BACKOFF_MS")
	v.BindEnv("deepgram.tts_model", "DEEPGRAM_TTS_MODEL")

	v.BindEnv("tts.provider", "TTS_PROVIDER")
	v.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")
	v.BindEnv("elevenlabs.voice_id", "ELEVENLABS_VOICE_ID")
	v.BindEnv("elevenlabs.model_id", "ELEVENLABS_MODEL_ID")

	v.BindEnv("llm.base_url", "LLM_BASE_URL")
	v.BindEnv("llm.api_key", "LLM_API_KEY")
	v.BindEnv("llm.model", "LLM_MODEL")
	v.BindEnv("llm.azure_endpoint", "AZURE_OPENAI_ENDPOINT")
	v.BindEnv("llm.azure_api_key", "AZURE_OPENAI_API_KEY")
	v.BindEnv("llm.deployment", "LLM_DEPLOYMENT")
	v.BindEnv("llm.api_version", "LLM_API_VERSION")
	v.BindEnv("llm.temperature", "LLM_TEMPERATURE")
	v.BindEnv("llm.max_tokens", "LLM_MAX_TOKENS")
	v.BindEnv("llm.max_tool_rounds", "LLM_MAX_TOOL_ROUNDS")
	v.BindEnv("llm.timeout_seconds", "LLM_TIMEOUT_SECONDS")

	v.BindEnv("retrieval.url", "RETRIEVAL_URL")
	v.BindEnv("retrieval.limit", "RETRIEVAL_LIMIT")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.LogFormat = v.GetString("server.log_format")
	c.Server.GRPCHealthAddr = v.GetString("server.grpc_health_addr")

	c.Redis.URL = v.GetString("redis.url")

	c.Call.SessionTTL = seconds(v.GetInt("call.session_ttl_seconds"))
	c.Call.GhostTimeout = seconds(v.GetInt("call.ghost_timeout_seconds"))
	c.Call.FrameBytes = v.GetInt("call.frame_bytes")
	c.Call.FrameInterval = time.Duration(v.GetInt("call.frame_ms")) * time.Millisecond
	c.Call.HistoryLimit = v.GetInt("call.history_limit")
	c.Call.AgentsFile = v.GetString("call.agents_file")

	c.Deepgram.APIKey = v.GetString("deepgram.api_key")
	c.Deepgram.Model = v.GetString("deepgram.model")
	c.Deepgram.Language = v.GetString("deepgram.language")
	c.Deepgram.EndpointingMs = v.GetInt("deepgram.endpointing_ms")
	c.Deepgram.UtterEndMs = v.GetInt("deepgram.utterance_end_ms")
	c.Deepgram.WSURL = v.GetString("deepgram.ws_url")
	c.Deepgram.MaxRetries = v.GetInt("deepgram.max_retries")
	c.Deepgram.Backoff = time.Duration(v.GetInt("deepgram.backoff_ms")) * time.Millisecond
	c.Deepgram.TTSModel = v.GetString("deepgram.tts_model")

	c.TTS.Provider = strings.ToLower(v.GetString("tts.provider"))
	c.Eleven.APIKey = v.GetString("elevenlabs.api_key")
	c.Eleven.VoiceID = v.GetString("elevenlabs.voice_id")
	c.Eleven.ModelID = v.GetString("elevenlabs.model_id")

	c.LLM.BaseURL = v.GetString("llm.base_url")
	c.LLM.APIKey = v.GetString("llm.api_key")
	c.LLM.Model = v.GetString("llm.model")
	c.LLM.AzureEndpoint = v.GetString("llm.azure_endpoint")
	c.LLM.AzureAPIKey = v.GetString("llm.azure_api_key")
	c.LLM.Deployment = v.GetString("llm.deployment")
	c.LLM.APIVersion = v.GetString("llm.api_version")
	c.LLM.Temperature = v.GetFloat64("llm.temperature")
	c.LLM.MaxTokens = v.GetInt("llm.max_tokens")
	c.LLM.MaxToolRounds = v.GetInt("llm.max_tool_rounds")
	c.LLM.Timeout = seconds(v.GetInt("llm.timeout_seconds"))

	c.Retrieval.URL = v.GetString("retrieval.url")
	c.Retrieval.Limit = v.GetInt("retrieval.limit")

	return c
}

// UsesAzure reports whether LLM requests go to an Azure OpenAI deployment.
func (c Config) UsesAzure() bool {
	return c.LLM.AzureEndpoint != "" && c.LLM.Deployment != ""
}

func toString(v any) string { return fmt.Sprint(v) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
