package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/stylebot/internal/logging"
	"github.com/hrygo/stylebot/internal/profile"
	"github.com/hrygo/stylebot/internal/version"
	"github.com/hrygo/stylebot/server"
	"github.com/hrygo/stylebot/store"
	"github.com/hrygo/stylebot/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:     "stylebot",
		Version: version.String(),
		Short: `A conversational shopping assistant for fashion stores, with intent routing, semantic search and personalized ranking.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Systemd units provide the environment through EnvironmentFile.
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile := loadProfile()

			ctx, cancel := context.WithCancel(context.Background())
			storeInstance, err := openStore(ctx, instanceProfile)
			if err != nil {
				cancel()
				slog.Error("failed to open store", "error", err)
				return
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				cancel()
				slog.Error("failed to create server", "error", err)
				return
			}

			c := make(chan os.Signal, 1)
			// SIGTERM is what most process managers send for a graceful stop.
			signal.Notify(c, terminationSignals...)

			if err := s.Start(ctx); err != nil {
				slog.Error("failed to start server", "error", err)
				cancel()
				return
			}

			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}
)

// loadProfile builds the profile from flags and environment and installs
// the default logger.
func loadProfile() *profile.Profile {
	instanceProfile := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version.String(),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		panic(err)
	}
	slog.SetDefault(logging.New(os.Stdout, instanceProfile.Mode, logging.ParseLevel(viper.GetString("log-level"))))
	return instanceProfile
}

func openStore(ctx context.Context, instanceProfile *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		printDatabaseError(err, instanceProfile)
		return nil, err
	}

	storeInstance := store.New(dbDriver, instanceProfile)
	if err := storeInstance.Migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to migrate")
	}
	return storeInstance, nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)
	viper.SetDefault("log-level", "info")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "log-level"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(ingestCmd)

	viper.SetEnvPrefix("stylebot")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Stylebot %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)
	if !profile.IsAIEnabled() {
		fmt.Println("LLM: disabled (set STYLEBOT_LLM_API_KEY to enable)")
	}

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
		fmt.Printf("Chat endpoint: http://localhost:%d/api/v1/chat\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
		fmt.Printf("Chat endpoint: http://%s:%d/api/v1/chat\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError provides user-friendly error messages for database connection issues
func printDatabaseError(err error, profile *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nDatabase connection failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "cannot connect"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL is not running.")
		if profile.Driver == "postgres" {
			fmt.Fprintf(os.Stderr, "   Start it with: sudo systemctl start postgresql\n")
		}
		fmt.Fprintf(os.Stderr, "\n   Or use SQLite for development:\n")
		fmt.Fprintf(os.Stderr, "   ./stylebot --driver=sqlite --data=./data\n")

	case strings.Contains(errMsg, "SSL is not enabled") || strings.Contains(errMsg, "sslmode"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL SSL configuration mismatch.")
		fmt.Fprintf(os.Stderr, "   Add ?sslmode=disable to STYLEBOT_DSN.\n")

	case strings.Contains(errMsg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "\nPostgreSQL authentication failed.")
		fmt.Fprintf(os.Stderr, "   Check the credentials in STYLEBOT_DSN or .env.\n")

	case strings.Contains(errMsg, "database") && strings.Contains(errMsg, "does not exist"):
		fmt.Fprintln(os.Stderr, "\nDatabase does not exist.")
		fmt.Fprintf(os.Stderr, "   Create it with: createdb stylebot\n")

	default:
		fmt.Fprintln(os.Stderr, "\nError:", errMsg)
	}

	if _, statErr := os.Stat(".env"); statErr == nil {
		fmt.Fprintf(os.Stderr, "\nConfiguration was loaded from .env in the current directory.\n")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
