package config

import (
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "USWA_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "USWA_API_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
	},
	{
		env: "USWA_LLM_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
	},
	{
		env: "USWA_LLM_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
	},
	{
		env: "USWA_LLM_CHAT_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.LLM.ChatModel = v.(string) },
	},
	{
		env: "USWA_LLM_FAST_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.LLM.FastModel = v.(string) },
	},
	{
		env: "USWA_LLM_EMBED_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.LLM.EmbedModel = v.(string) },
	},
	{
		env: "USWA_LLM_EMBED_DIM", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.LLM.EmbedDim = v.(int) },
	},
	{
		env: "USWA_LLM_VISION_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.LLM.VisionModel = v.(string) },
	},
	{
		env: "USWA_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "USWA_STORAGE_FILES_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.FilesDir = v.(string) },
	},
	{
		env: "USWA_RETRIEVAL_TOP_K", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
	},
	{
		env: "USWA_RETRIEVAL_MIN_SCORE", typ: kFloat,
		apply: func(cfg *Config, v any) { cfg.Retrieval.MinScore = v.(float64) },
	},
	{
		env: "USWA_SCHEDULER_MAX_BACKLOG", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Scheduler.MaxBacklog = v.(int) },
	},
	{
		env: "USWA_SCHEDULER_DAILY_CAP", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Scheduler.DailyCap = v.(int) },
	},
	{
		env: "USWA_SCHEDULER_HORIZON_DAYS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Scheduler.HorizonDays = v.(int) },
	},
	{
		env: "USWA_TRIAGE_MAX_MESSAGES", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Triage.MaxMessages = v.(int) },
	},
	{
		env: "USWA_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

// applyEnv overrides cfg fields from environment variables. Unparseable
// numeric values are ignored and the default stands.
func applyEnv(cfg *Config, getenv func(string) string) {
	for _, s := range specs {
		raw := getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if v, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, v)
			}
		case kFloat:
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, v)
			}
		}
	}
}
