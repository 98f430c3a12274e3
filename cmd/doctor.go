package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/unibox/internal/assistant"
	"github.com/nextlevelbuilder/unibox/internal/config"
	"github.com/nextlevelbuilder/unibox/internal/store/pg"
	"github.com/nextlevelbuilder/unibox/internal/upgrade"
	"github.com/nextlevelbuilder/unibox/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, storage and cache health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("unibox doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.IsManagedMode() {
		fmt.Printf("    %-12s managed (postgres)\n", "Mode:")
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		} else {
			fmt.Printf("    %-12s OK\n", "Status:")
			if s, err := upgrade.CheckSchema(context.Background(), db); err != nil {
				fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
			} else {
				fmt.Printf("    %-12s %s\n", "Schema:", s.Describe())
			}
			db.Close()
		}
	} else {
		fmt.Printf("    %-12s standalone (sqlite)\n", "Mode:")
		fmt.Printf("    %-12s %s\n", "Path:", cfg.Database.SQLitePath)
	}

	fmt.Println()
	fmt.Println("  Assistant:")
	fmt.Printf("    %-12s %s\n", "Provider:", cfg.Assistant.Provider)
	fmt.Printf("    %-12s %s\n", "Timeout:", cfg.Assistant.Timeout())
	checkCache(cfg)

	fmt.Println()
	fmt.Println("  Auto-reply:")
	ar := cfg.AutoReplySettings()
	fmt.Printf("    %-12s %v\n", "Enabled:", ar.Enabled)
	fmt.Printf("    %-12s %dms\n", "Debounce:", ar.DebounceMS)
	fmt.Printf("    %-12s %ds\n", "Cache TTL:", ar.CacheTTLSec)

	missing := cfg.MissingCredentials()
	fmt.Println()
	if len(missing) == 0 {
		fmt.Println("  Credentials: all set")
		return
	}
	fmt.Println("  Credentials missing:")
	for _, m := range missing {
		fmt.Printf("    - %s\n", m)
	}
}

func checkCache(cfg *config.Config) {
	if !cfg.Cache.UsesRedis() {
		fmt.Printf("    %-12s memory (%d entries)\n", "Cache:", cfg.Cache.MemorySize)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := assistant.NewRedisCache(ctx, assistant.RedisOptions{
		URL:      cfg.Cache.RedisURL,
		Host:     cfg.Cache.Host,
		Port:     cfg.Cache.Port,
		Password: cfg.Cache.Password,
		TLS:      cfg.Cache.TLS,
		DB:       cfg.Cache.DB,
	})
	if err != nil {
		fmt.Printf("    %-12s redis CONNECT FAILED (%s)\n", "Cache:", err)
		return
	}
	rc.Close()
	fmt.Printf("    %-12s redis OK\n", "Cache:")
}
