package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"stillpoint/internal/app"
	"stillpoint/internal/config"
	"stillpoint/internal/db"
	"stillpoint/internal/engine/auth"
	"stillpoint/internal/logging"
	"stillpoint/internal/migrate"
	"stillpoint/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sp",
	Short: "Stillpoint content CLI",
	Long: `Stillpoint manages wellness content through a review lifecycle.
- Contributors submit drafts; reviewers publish them.
- A contributor editing published content stages a shadow draft; the live version stays untouched until a reviewer approves it.
- Deleting content is soft: it disappears from every read but the ledger keeps it.
- The outbox relay turns lifecycle events into reviewer/contributor notifications and transcription jobs ('sp relay run').`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
	viper.SetEnvPrefix("STILLPOINT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-name", "", "actor display name used in notifications")
	rootCmd.PersistentFlags().String("role", "reviewer", "actor role (reviewer or contributor)")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/stillpoint.yml)")
	for _, name := range []string{"workspace", "json", "actor-id", "actor-name", "role", "config"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(contentCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(relayCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create stillpoint.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"config": path, "database": db.Path(workspace)})
			}
			fmt.Printf("wrote %s\ndatabase %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in stillpoint.yml: server, logging, notification and transcription sinks, media storage, redis and relay settings.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var entityKind string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				events, err := rt.Engine.Repo.LatestEvents(ctx, 0, entityKind, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	return cmd
}

func relayCmd() *cobra.Command {
	rl := &cobra.Command{Use: "relay", Short: "Deliver outbox events"}
	var once bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Deliver notifications and transcription requests",
		Long: `Deliver notifications and transcription requests.

Relays share a lease in the workspace database: while one relay (for example
the one inside 'sp serve') holds it, others skip their passes instead of
delivering the same events again. Run 'sp serve --no-relay' when a dedicated
relay process should own delivery.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				r, err := rt.Relay(ctx)
				if err != nil {
					return err
				}
				if once {
					n, err := r.Drain(ctx)
					if viper.GetBool("json") {
						return errors.Join(printJSON(map[string]any{"delivered": n}), err)
					}
					fmt.Printf("delivered %d events\n", n)
					return err
				}
				rt.Log.Info().Dur("interval", rt.Config.RelayInterval()).Msg("relay running")
				if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	run.Flags().BoolVar(&once, "once", false, "drain the outbox once and exit")
	rl.AddCommand(run)
	return rl
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noRelay bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Start the HTTP API server. The outbox relay runs in-process unless --no-relay is set; see 'sp relay run --help'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if !cmd.Flags().Changed("addr") && rt.Config.Server.Addr != "" {
					addr = rt.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && rt.Config.Server.BasePath != "" {
					basePath = rt.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:              rt.JWTSecret(),
					AllowLegacyActorHeader: rt.Config.Server.AllowLegacyActorHeader,
					DevLogin:               rt.Config.Server.DevLogin,
					Logger:                 logging.WithComponent("auth"),
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("%s is required for bearer auth", rt.Config.Server.JWTSecretEnv)
				}
				if authCfg.DevLogin {
					rt.Log.Warn().Msg("server.dev_login is on: anyone can mint tokens at /auth/dev/login")
				}
				srvCfg := server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Logger:   logging.WithComponent("http"),
				}
				if m := rt.Media(); m != nil {
					srvCfg.Media = m
				}
				handler, err := server.New(srvCfg)
				if err != nil {
					return err
				}

				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				relayDone := make(chan error, 1)
				if noRelay {
					relayDone <- nil
				} else {
					r, err := rt.Relay(ctx)
					if err != nil {
						return err
					}
					go func() { relayDone <- r.Run(ctx) }()
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Log.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving Stillpoint API (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				cancel()
				if err := <-relayDone; err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noRelay, "no-relay", false, "do not run the outbox relay in-process (use with a separate 'sp relay run')")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// cliActor builds the calling actor from the persistent flags.
func cliActor() (auth.Actor, error) {
	role, err := auth.ParseRole(viper.GetString("role"))
	if err != nil {
		return auth.Actor{}, err
	}
	return auth.Actor{
		ID:   viper.GetString("actor-id"),
		Name: viper.GetString("actor-name"),
		Role: role,
	}, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
