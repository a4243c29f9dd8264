package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ghostwriter-im/ghostwriter/internal/profile"
	"github.com/ghostwriter-im/ghostwriter/internal/version"
)

var (
	rootCmd = &cobra.Command{
		Use:   "ghostwriter",
		Short: `A personal messaging automation gateway. Pairs chat transports with an LLM ghostwriter that replies in your own voice.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Only load .env for direct binary execution (not when running as systemd service)
			// Systemd service uses /etc/ghostwriter/config for environment variables
			if !isRunningAsSystemdService() {
				// Try to load .env file from current directory (ignore error if file doesn't exist)
				_ = godotenv.Load()
			}
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile := &profile.Profile{
				Mode:   viper.GetString("mode"),
				Addr:   viper.GetString("addr"),
				Port:   viper.GetInt("port"),
				Data:   viper.GetString("data"),
				Driver: viper.GetString("driver"),
				DSN:    viper.GetString("dsn"),
			}
			instanceProfile.FromEnv()
			instanceProfile.Version = version.String()
			if err := instanceProfile.Validate(); err != nil {
				panic(err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			g, err := newGateway(ctx, instanceProfile)
			if err != nil {
				slog.Error("failed to start gateway", "error", err)
				cancel()
				return
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			// The default signal sent by the `kill` command is SIGTERM,
			// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
			signal.Notify(c, terminationSignals...)

			g.Start(ctx)
			printGreetings(instanceProfile)

			go func() {
				<-c
				g.Shutdown()
				cancel()
			}()

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.StringFull())
		},
	}
)

func init() {
	rootCmd.AddCommand(versionCmd)

	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28080)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the admin side-channel")
	rootCmd.PersistentFlags().Int("port", 28080, "port of the admin side-channel")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("ghostwriter")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Ghostwriter %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)

	if len(profile.Addr) == 0 {
		fmt.Printf("Admin side-channel on port %d\n", profile.Port)
	} else {
		fmt.Printf("Admin side-channel on %s:%d\n", profile.Addr, profile.Port)
	}

	channels := make([]string, 0, 2)
	if profile.TelegramBotToken != "" {
		channels = append(channels, "telegram")
	}
	if profile.WhatsAppBridgeURL != "" {
		channels = append(channels, "whatsapp")
	}
	if len(channels) == 0 {
		fmt.Println("Channels: none configured")
	} else {
		fmt.Printf("Channels: %s\n", strings.Join(channels, ", "))
	}
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	// Check if invoked by systemd (environment variables set by systemd)
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
