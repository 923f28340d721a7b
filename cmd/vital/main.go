package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/vital/internal/config"
	"github.com/mohammad-safakhou/vital/internal/pipeline"
	srv "github.com/mohammad-safakhou/vital/internal/server"
	"github.com/mohammad-safakhou/vital/internal/telemetry"
)

func main() {
	var root = &cobra.Command{Use: "vital"}

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serveAddr == "" {
				serveAddr = os.Getenv("VITAL_HTTP_ADDR")
			}
			return srv.Run(serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	var migDir string
	var direction string
	var steps int
	var migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var userID string
	var sessionID string
	var turn = &cobra.Command{
		Use:   "turn [query]",
		Short: "Run a single conversational turn and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			tele := telemetry.NewTelemetry(cfg.Telemetry)
			pipe, st, err := srv.NewPipeline(ctx, cfg, tele)
			if err != nil {
				return err
			}
			defer st.Close()

			query := ""
			for i, a := range args {
				if i > 0 {
					query += " "
				}
				query += a
			}
			result, err := pipe.RunTurn(ctx, pipeline.TurnRequest{UserID: userID, SessionID: sessionID, Query: query})
			if err != nil {
				return err
			}
			// Let background saves finish before the process exits
			if result.Report != nil {
				result.Report.Wait()
				result.Persisted = result.Report.Outcomes()
			}
			b, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}
	turn.Flags().StringVar(&userID, "user", "", "user id to run the turn as")
	turn.Flags().StringVar(&sessionID, "session", "", "conversation session id")

	root.AddCommand(serve, migrateCmd, turn)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
