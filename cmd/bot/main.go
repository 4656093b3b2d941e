package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trading-botv1/config"
	"trading-botv1/internal/bot"
	"trading-botv1/internal/logger"
)

var (
	version    = "0.1.0"
	configFile string
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	rootCmd := &cobra.Command{
		Use:   "bot",
		Short: "Confluence futures trading bot",
		Long: `bot trades one Binance USDT-M futures symbol: it enters on candle,
volume, RSI and EMA confluence and protects the position with a trailing
stop, a breakeven move and a fixed take profit.`,
		SilenceUsage: true,
		RunE:         runBot,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")

	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		os.Setenv("CONFIG_FILE", configFile)
	}
	return config.Load()
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("[bot] config: %v", err)
	}
	slogger := logger.Init("bot", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[bot] symbol %s, interval %s, paper=%v", cfg.Symbol, cfg.CandleInterval, cfg.PaperTrading)

	svc, err := bot.New(cfg, slogger)
	if err != nil {
		log.Fatalf("[bot] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return svc.Run(ctx)
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and probe the exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Stores and metrics are not needed for a probe.
			cfg.SQLitePath, cfg.RedisAddr, cfg.MetricsAddr = "", "", ""

			svc, err := bot.New(cfg, logger.Init("bot", logger.ParseLevel(cfg.LogLevel)))
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := svc.Check(ctx); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, line := range cfg.Redacted() {
				fmt.Println(line)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bot version %s\n", version)
		},
	}
}
