package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"imageinsight/internal/config"
	"imageinsight/internal/journal"
	"imageinsight/internal/provider"
)

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your ImageInsight installation",
		Long: `Verifies that configuration, credentials, the image directory, the
journal database and both backends are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("ImageInsight Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
			r := &doctorReport{}

			cfgPath := config.ResolvePath(configPath)
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s (environment only)", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				// Keep checking what does not need credentials.
				cfg, err = config.Load(configPath, "Telegram.Token", "Chat.APIKey", "Vision.APIKey")
				if err != nil {
					return r.summary()
				}
			} else {
				r.pass("Config validation", "valid")
			}

			if err := checkWritableDir(cfg.Images.Dir); err != nil {
				r.fail("Image directory", err.Error())
			} else {
				r.pass("Image directory", cfg.Images.Dir)
			}

			if cfg.Journal.Enabled {
				if err := checkJournal(cfg.Journal.DBPath); err != nil {
					r.fail("Journal", err.Error())
				} else {
					r.pass("Journal", cfg.Journal.DBPath)
				}
			}

			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					r.warn("Metrics address", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
				} else {
					r.pass("Metrics address", cfg.Metrics.Addr+" available")
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			c, err := buildCore(ctx, cfg)
			if err != nil {
				r.fail("Backends", err.Error())
				return r.summary()
			}
			backends := c.backends()
			for role, err := range provider.CheckHealth(ctx, backends) {
				label := fmt.Sprintf("Backend: %s (%s)", role, backends[role].Name())
				if err != nil {
					r.fail(label, err.Error())
				} else {
					r.pass(label, "reachable")
				}
			}

			return r.summary()
		},
	}
}

func (r *doctorReport) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running ImageInsight.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nImageInsight should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! ImageInsight is ready to run.\n")
	}
	return nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkJournal(dbPath string) error {
	store, err := journal.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := store.Recent(ctx, 1); err != nil {
		return fmt.Errorf("not readable: %w", err)
	}
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
