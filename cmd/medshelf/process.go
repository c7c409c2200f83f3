package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/medshelf/internal/cache"
	"github.com/jackzampolin/medshelf/internal/config"
	"github.com/jackzampolin/medshelf/internal/consensus"
	"github.com/jackzampolin/medshelf/internal/extract"
	"github.com/jackzampolin/medshelf/internal/home"
	"github.com/jackzampolin/medshelf/internal/pipeline"
	"github.com/jackzampolin/medshelf/internal/prompts"
	"github.com/jackzampolin/medshelf/internal/providers"
	"github.com/jackzampolin/medshelf/internal/standardize"
	"github.com/jackzampolin/medshelf/internal/summarize"
)

var (
	processProfile string
	processInput   string
	processOutput  string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process exam PDFs into records, transcripts and summaries",
	Long: `Process all matching PDFs in the input directory.

Each document is rendered to page images, extracted page by page under
self-consistency voting, date-corrected, standardized and summarized.
Documents with an existing CSV are skipped, so interrupted runs resume
where they left off.

Examples:
  medshelf process --input ./scans --output ./out
  medshelf process --profile maria
  medshelf process --profile maria -v`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cm.Get()

		var profile *config.Profile
		profileContext := ""
		if processProfile != "" {
			h, err := home.New(homeDir, "")
			if err != nil {
				return err
			}
			profile, err = config.LoadProfile(
				filepath.Join(h.ProfilesDir(), processProfile+".yaml"))
			if err != nil {
				return err
			}
			applyProfile(cfg, profile)
			profileContext = profile.PatientContext()
			logger.Info("loaded profile", "profile", profile.Name)
		}
		if processInput != "" {
			cfg.Paths.Input = processInput
		}
		if processOutput != "" {
			cfg.Paths.Output = processOutput
		}
		if cfg.Paths.Input == "" {
			return fmt.Errorf("no input directory: set --input, paths.input or a profile")
		}

		p, err := newPipeline(cfg, profileContext, logger)
		if err != nil {
			return err
		}
		return p.Run(ctx)
	},
}

// newPipeline wires the pipeline and all its collaborators from config.
func newPipeline(cfg *config.Config, profileContext string, logger *slog.Logger) (*pipeline.Pipeline, error) {
	h, err := home.New(homeDir, cfg.Paths.Output)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}

	client, err := buildClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry, err := prompts.NewRegistry(filepath.Join(h.Path(), "prompts"), logger)
	if err != nil {
		return nil, err
	}

	standardizeCache := cache.NewFileStore(h.CachePath("standardization"), logger)
	examSummaryCache := cache.NewFileStore(h.CachePath("exam_summaries"), logger)

	return pipeline.New(pipeline.Options{
		Home:      h,
		Config:    cfg,
		Renderer:  pipeline.NewPopplerRenderer(logger),
		Extractor: extract.New(client, registry, cfg.Models.Extract, logger),
		Runner:    consensus.NewRunner(client, cfg.Models.Consistency, registry, logger),
		Standardizer: standardize.New(
			client, registry, cfg.Models.Standardize, standardizeCache, logger),
		Summarizer: summarize.New(client, registry, cfg.Models.Summarize, summarize.Config{
			MaxInputTokens:      cfg.Pipeline.SummarizeMaxInputTokens,
			IncrementalOverhead: cfg.Pipeline.IncrementalOverheadTokens,
		}, examSummaryCache, logger),
		ProfileContext: profileContext,
		Logger:         logger,
	}), nil
}

// applyProfile overlays a profile's overrides onto the loaded config.
func applyProfile(cfg *config.Config, p *config.Profile) {
	if p.Paths.Input != "" {
		cfg.Paths.Input = p.Paths.Input
	}
	if p.Paths.Output != "" {
		cfg.Paths.Output = p.Paths.Output
	}
	if p.Paths.InputFileRegex != "" {
		cfg.Paths.InputFileRegex = p.Paths.InputFileRegex
	}
	if p.Model != "" {
		cfg.Models.Extract = p.Model
	}
	if p.Workers > 0 {
		cfg.Pipeline.MaxWorkers = p.Workers
	}
}

// buildClient constructs the LLM client from the first enabled provider,
// wrapped with its configured rate limit.
func buildClient(cfg *config.Config, logger *slog.Logger) (providers.LLMClient, error) {
	for name, pc := range cfg.EnabledLLMProviders() {
		apiKey := config.ResolveEnvVars(pc.APIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("provider %s has no API key (check %s)", name, pc.APIKey)
		}

		var client providers.LLMClient
		switch pc.Type {
		case providers.OpenRouterName:
			client = providers.NewOpenRouterClient(providers.OpenRouterConfig{
				APIKey:  apiKey,
				BaseURL: pc.BaseURL,
			})
		case providers.OpenAIName:
			client = providers.NewOpenAIClient(providers.OpenAIConfig{
				APIKey:  apiKey,
				BaseURL: pc.BaseURL,
			})
		default:
			return nil, fmt.Errorf("unknown provider type %q for %s", pc.Type, name)
		}

		var limiter *providers.RateLimiter
		if pc.RateLimit > 0 {
			limiter = providers.NewRateLimiter(int(pc.RateLimit))
		}
		logger.Info("using LLM provider", "provider", name, "type", pc.Type)
		return providers.NewRateLimitedClient(client, limiter), nil
	}
	return nil, fmt.Errorf("no enabled LLM providers in config")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

func init() {
	processCmd.Flags().StringVar(&processProfile, "profile", "", "patient profile name")
	processCmd.Flags().StringVar(&processInput, "input", "", "input directory with PDFs")
	processCmd.Flags().StringVar(&processOutput, "output", "", "output directory for artifacts")

	rootCmd.AddCommand(processCmd)
}
