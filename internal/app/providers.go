package app

import (
	"fmt"
	"maps"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/minutes/internal/config"
	"github.com/MrWong99/minutes/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/minutes/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/minutes/pkg/provider/embeddings/openai"
	"github.com/MrWong99/minutes/pkg/provider/llm"
	"github.com/MrWong99/minutes/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/minutes/pkg/provider/llm/openai"
	"github.com/MrWong99/minutes/pkg/provider/stt"
	oastt "github.com/MrWong99/minutes/pkg/provider/stt/openai"
	"github.com/MrWong99/minutes/pkg/provider/stt/whisper"
)

// RegisterBuiltinProviders registers a factory for every provider name in
// [config.ValidProviderNames]. Factories read the API key from the entry, so
// callers resolve it first (see [App.entry]).
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if e.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(e.BaseURL))
		}
		if org := optString(e.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(e.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		if _, ok := e.Options["max_retries"]; ok {
			opts = append(opts, oallm.WithMaxRetries(optInt(e.Options, "max_retries")))
		}
		return oallm.New(e.APIKey, e.Model, opts...)
	})

	// Every other model goes through any-llm. Local servers ignore the key.
	for _, name := range anyllm.Backends() {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if e.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, oastt.WithModel(e.Model))
		}
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if dir := optString(e.Options, "temp_dir"); dir != "" {
			opts = append(opts, oastt.WithTempDir(dir))
		}
		if d := optDuration(e.Options, "timeout"); d > 0 {
			opts = append(opts, oastt.WithTimeout(d))
		}
		return oastt.New(e.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if e.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(e.BaseURL))
		}
		if n := optInt(e.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if n := optInt(e.Options, "dimensions"); n > 0 {
			opts = append(opts, ollamaembed.WithDimensions(n))
		}
		if d := optDuration(e.Options, "timeout"); d > 0 {
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		return ollamaembed.New(e.BaseURL, e.Model, opts...)
	})
}

// optString extracts a string value from an options map.
// Returns "" if the key is absent or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// optInt accepts the int YAML decodes to and the float64 JSON decodes to.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration reads a Go duration string such as "30s".
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// withOption returns a copy of e with key set unless it is already present.
func withOption(e config.ProviderEntry, key string, value any) config.ProviderEntry {
	if _, ok := e.Options[key]; ok {
		return e
	}
	opts := maps.Clone(e.Options)
	if opts == nil {
		opts = make(map[string]any, 1)
	}
	opts[key] = value
	e.Options = opts
	return e
}

func describe(kind string, e config.ProviderEntry) string {
	if e.Model == "" {
		return fmt.Sprintf("%s %s", kind, e.Name)
	}
	return fmt.Sprintf("%s %s/%s", kind, e.Name, e.Model)
}
