package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Mindburn-Labs/arbiter/pkg/acceptance"
	"github.com/Mindburn-Labs/arbiter/pkg/analyzer"
	"github.com/Mindburn-Labs/arbiter/pkg/arbiter"
	"github.com/Mindburn-Labs/arbiter/pkg/config"
	"github.com/Mindburn-Labs/arbiter/pkg/crypto"
	"github.com/Mindburn-Labs/arbiter/pkg/observability"
	"github.com/Mindburn-Labs/arbiter/pkg/policy"
)

// loadSigner loads the arbiter key. A malformed key is a *crypto.KeyError
// and the caller must exit.
func loadSigner(cfg *config.Config) (*crypto.Signer, error) {
	switch {
	case cfg.SecretKey != "":
		return crypto.NewSignerFromHex(cfg.SecretKey)
	case cfg.MasterSecret != "":
		return crypto.DeriveSigner([]byte(cfg.MasterSecret), cfg.KeyLabel)
	default:
		return nil, &crypto.KeyError{Reason: "no key configured; set ARBITER_SECRET_KEY or ARBITER_MASTER_SECRET"}
	}
}

// loadPolicies reads every configured policy file into a registry, or
// registers the built-in table when none is configured.
func loadPolicies(paths string) (*policy.Registry, error) {
	files := splitList(paths)
	if len(files) == 0 {
		return policy.NewRegistry(policy.Default())
	}
	return policy.LoadRegistry(files...)
}

func buildAnalyzer(cfg *config.Config, logger *slog.Logger) analyzer.Analyzer {
	retry := analyzer.DefaultRetryConfig()
	retry.MaxAttempts = cfg.AnalyzerMaxAttempts
	retry.RatePerSecond = cfg.AnalyzerRPS

	switch cfg.Analyzer {
	case config.AnalyzerOpenAI:
		return analyzer.NewRetrying(analyzer.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL, nil), retry, logger)
	case config.AnalyzerAnthropic:
		return analyzer.NewRetrying(analyzer.NewAnthropic(cfg.Anthropic.APIKey, cfg.Anthropic.Model, cfg.Anthropic.BaseURL, nil), retry, logger)
	case config.AnalyzerAdvisory:
		return analyzer.Advisory{}
	default:
		// static: candidates arrive with the request.
		return nil
	}
}

func buildTelemetry(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	oc := observability.DefaultConfig()
	oc.Environment = cfg.Environment
	oc.OTLPEndpoint = cfg.OTLPEndpoint
	oc.Insecure = cfg.OTLPInsecure
	oc.Enabled = cfg.OTLPEndpoint != ""
	return observability.New(ctx, oc)
}

// buildEngine wires every issuance dependency from configuration.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*arbiter.Engine, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	signer, err := loadSigner(cfg)
	if err != nil {
		return nil, nil, err
	}
	policies, err := loadPolicies(cfg.PolicyPath)
	if err != nil {
		_ = signer.Close()
		return nil, nil, err
	}
	table := policies.Latest()
	tel, err := buildTelemetry(ctx, cfg)
	if err != nil {
		_ = signer.Close()
		return nil, nil, err
	}

	engine, err := arbiter.New(ctx, table, signer,
		arbiter.WithAnalyzer(buildAnalyzer(cfg, logger)),
		arbiter.WithTelemetry(tel),
		arbiter.WithLogger(logger),
		arbiter.WithValidity(cfg.TicketTTL),
		arbiter.WithDisputeWindow(cfg.EnforceDisputeWindow),
	)
	if err != nil {
		_ = signer.Close()
		_ = tel.Shutdown(ctx)
		return nil, nil, err
	}
	cleanup := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(sctx)
		_ = signer.Close()
	}
	logger.Info("arbiter engine ready",
		"pubkey", engine.PublicKey(),
		"policy", table.Name(),
		"policy_version", table.Version(),
		"policy_versions", policies.Versions(),
		"analyzer", cfg.Analyzer,
	)
	return engine, cleanup, nil
}

func openNonceStore(ctx context.Context, cfg *config.Config) (acceptance.NonceStore, error) {
	kind, target, err := config.ParseNonceStore(cfg.NonceStore)
	if err != nil {
		return nil, err
	}
	return acceptance.Open(ctx, kind, target)
}

// readInput reads a file, or stdin for "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, data []byte, stdout io.Writer) error {
	if path == "" || path == "-" {
		_, err := fmt.Fprintln(stdout, string(data))
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
