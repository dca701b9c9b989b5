// Command llmgatewayctl is the gateway's operator CLI: validate
// configuration, inspect credential health, and print the effective
// routing table without starting the HTTP edge. Grounded on the teacher's
// cmd/cli root-command-plus-subcommands layout (cmd/cli/main.go).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/llmgateway/proxy/internal/infrastructure/config"
	"github.com/llmgateway/proxy/internal/infrastructure/credential"
	"github.com/llmgateway/proxy/internal/infrastructure/logger"
)

const cliName = "llmgatewayctl"

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "Operator CLI for the LLM API gateway",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and credential health",
		RunE:  runDoctor,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "routes",
		Short: "Print configured backends and failover routes",
		RunE:  runRoutes,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("%s doctor\n\n", cliName)

	checks := []struct {
		name  string
		check func(*config.Config) (string, bool)
	}{
		{"config loads", func(cfg *config.Config) (string, bool) { return "ok", true }},
		{"default backend configured", checkDefaultBackend},
		{"at least one backend defined", checkHasBackends},
		{"credentials load without error", checkCredentials},
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("  x config: %v\n", err)
		return err
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check(cfg)
		icon := "✓"
		if !ok {
			icon = "x"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if !allOK {
		return fmt.Errorf("one or more checks failed")
	}
	fmt.Println("all checks passed")
	return nil
}

func checkDefaultBackend(cfg *config.Config) (string, bool) {
	if cfg.DefaultBackend == "" {
		return "default_backend is unset", false
	}
	if _, ok := cfg.Backends[cfg.DefaultBackend]; !ok {
		return fmt.Sprintf("default_backend %q has no backends entry", cfg.DefaultBackend), false
	}
	return cfg.DefaultBackend, true
}

func checkHasBackends(cfg *config.Config) (string, bool) {
	if len(cfg.Backends) == 0 {
		return "no backends configured", false
	}
	return fmt.Sprintf("%d backend(s)", len(cfg.Backends)), true
}

func checkCredentials(cfg *config.Config) (string, bool) {
	if cfg.CredentialDir == "" {
		return "credential_dir unset, skipping", true
	}
	log, err := logger.New(logger.Config{Level: "error", Format: "console", OutputPath: "stderr"})
	if err != nil {
		return err.Error(), false
	}
	defer log.Sync()

	creds := credential.NewManager(log)
	loaded, errs := creds.LoadDir(cfg.CredentialDir)
	if len(errs) > 0 {
		return fmt.Sprintf("%d error(s) loading %s", len(errs), cfg.CredentialDir), false
	}
	return fmt.Sprintf("%d backend(s) loaded from %s", len(loaded), cfg.CredentialDir), true
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Println("backends:")
	for name, b := range cfg.Backends {
		fmt.Printf("  %s (%s) models=%v\n", name, b.Dialect, b.Models)
	}

	fmt.Println("failover routes:")
	for name, r := range cfg.FailoverRoutes {
		fmt.Printf("  %s policy=%s elements=%v\n", name, r.Policy, r.Elements)
	}
	return nil
}
