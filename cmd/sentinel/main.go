// Command sentinel runs the security mediator as either a stdio middleware
// in front of a spawned upstream MCP server, or an HTTP interceptor in front
// of a network-addressable one.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sentinel-mediator/sentinel/internal/config"
	"github.com/sentinel-mediator/sentinel/internal/logs"
	"github.com/sentinel-mediator/sentinel/internal/mediator"
	"github.com/sentinel-mediator/sentinel/internal/policy"
	"github.com/sentinel-mediator/sentinel/internal/security"
	"github.com/sentinel-mediator/sentinel/internal/signer"
	"github.com/sentinel-mediator/sentinel/internal/store"

	"github.com/redis/go-redis/v9"
)

var (
	cfgFile        string
	policyFile     string
	upstreamCmd    string
	upstreamArgs   []string
	listenAddr     string
	apiKey         string
	dryRun         bool
	auditOnly      bool
	requireSession bool
	hmacKeyHex     string
	signingKeyHex  string
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sentinel",
		Short: "Mediates AI agent tool calls to prevent lethal-trifecta exfiltration",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (YAML/JSON, loaded via viper)")
	root.PersistentFlags().StringVar(&policyFile, "policy", "", "path to the YAML security policy document")
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "parse and validate the policy file, then exit")
	root.PersistentFlags().BoolVar(&auditOnly, "audit-only", false, "allow tool/resource requests while no policy is loaded (a loaded policy is still enforced)")
	root.PersistentFlags().BoolVar(&requireSession, "require-session-auth", true, "require a signed session id on every tool/resource request")
	root.PersistentFlags().StringVar(&hmacKeyHex, "hmac-key", "", "hex-encoded HMAC key for session id signing (random if empty)")
	root.PersistentFlags().StringVar(&signingKeyHex, "signing-key", "", "hex-encoded Ed25519 private key for bearer tokens (random if empty)")

	root.AddCommand(newInspectCommand())
	root.AddCommand(newStdioCommand())
	root.AddCommand(newServeCommand())

	return root
}

// newInspectCommand just validates a policy document and reports the
// result, without starting a mediator, so operators can lint a policy
// change in CI before rollout.
func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Validate a policy document and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if policyFile == "" {
				return fmt.Errorf("--policy is required")
			}
			v := &policy.Validator{}
			pol, err := policy.LoadFile(policyFile, v)
			if err != nil {
				return err
			}
			fmt.Printf("policy %q (version %s) is valid: %d static rules, %d taint rules, %d resource rules\n",
				pol.Name, pol.Version, len(pol.StaticRules), len(pol.TaintRules), len(pol.ResourceRules))
			return nil
		},
	}
}

func newStdioCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stdio -- <upstream command> [args...]",
		Short: "Run the stdio mediator in front of a spawned upstream process",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Upstream.Command = args[0]
			cfg.Upstream.Args = args[1:]
			cfg.RequireSessionAuth = requireSession
			cfg.AuditOnly = auditOnly

			logger, err := logs.SetupLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("sentinel: setting up logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			sgn, err := buildSigner()
			if err != nil {
				return err
			}

			pol, err := loadPolicy(logger)
			if dryRun {
				return err
			}

			core := security.New(security.Config{
				RequireSessionAuth: cfg.RequireSessionAuth,
				Spotlighting:       cfg.Spotlighting,
				AuditOnly:          cfg.AuditOnly,
			}, sgn, logger)
			if pol != nil {
				core.SetPolicy(pol)
			}

			med := mediator.NewStdioMediator(cfg.Upstream, core, logger)
			defer med.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger.Info("stdio mediator starting", zap.String("session_id", core.SessionID()))
			return med.Run(ctx, os.Stdin, os.Stdout)
		},
	}
	return cmd
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP interceptor in front of a network-addressable upstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.HTTP.Listen = listenAddr
			}
			if apiKey != "" {
				cfg.HTTP.APIKey = apiKey
			}
			cfg.RequireSessionAuth = requireSession
			cfg.AuditOnly = auditOnly

			logger, err := logs.SetupLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("sentinel: setting up logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			sgn, err := buildSigner()
			if err != nil {
				return err
			}

			pol, err := loadPolicy(logger)
			if dryRun {
				return err
			}

			var health mediator.HealthChecker
			if cfg.HTTP.RedisAddr != "" {
				rdb := redis.NewClient(&redis.Options{Addr: cfg.HTTP.RedisAddr})
				health = store.NewRedisSessionStore(rdb)
			}

			secCfg := security.Config{
				RequireSessionAuth: cfg.RequireSessionAuth,
				Spotlighting:       cfg.Spotlighting,
				AuditOnly:          cfg.AuditOnly,
			}
			newCore := func() *security.Core {
				c := security.New(secCfg, sgn, logger)
				if pol != nil {
					c.SetPolicy(pol)
				}
				return c
			}

			med := mediator.NewHTTPMediator(cfg.HTTP, sgn, logger, health, newCore)

			logger.Info("http mediator listening", zap.String("addr", cfg.HTTP.Listen))
			return http.ListenAndServe(cfg.HTTP.Listen, med.Router())
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "address to listen on (overrides config)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "required X-Api-Key value (overrides config)")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if cfgFile == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("sentinel: reading config %s: %w", cfgFile, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("sentinel: parsing config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

func loadPolicy(logger *zap.Logger) (*policy.Policy, error) {
	if policyFile == "" {
		logger.Warn("no --policy given; mediator will fail-closed deny every tool request unless --audit-only is set")
		return nil, nil
	}
	pol, err := policy.LoadFile(policyFile, &policy.Validator{})
	if err != nil {
		return nil, fmt.Errorf("sentinel: loading policy: %w", err)
	}
	return pol, nil
}

func buildSigner() (*signer.Signer, error) {
	var hmacKey []byte
	var signingKey ed25519.PrivateKey
	var err error

	if hmacKeyHex == "" || signingKeyHex == "" {
		hmacKey, signingKey, err = signer.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("sentinel: generating signer keys: %w", err)
		}
	}
	if hmacKeyHex != "" {
		hmacKey, err = hex.DecodeString(hmacKeyHex)
		if err != nil {
			return nil, fmt.Errorf("sentinel: decoding --hmac-key: %w", err)
		}
	}
	if signingKeyHex != "" {
		raw, err := hex.DecodeString(signingKeyHex)
		if err != nil {
			return nil, fmt.Errorf("sentinel: decoding --signing-key: %w", err)
		}
		signingKey = ed25519.NewKeyFromSeed(raw)
	}

	return signer.New(hmacKey, signingKey)
}
