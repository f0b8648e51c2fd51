package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/policy-rag/api"
	"github.com/fabfab/policy-rag/app"
	"github.com/fabfab/policy-rag/auditlog"
)

const shutdownTimeout = 10 * time.Second

var (
	ingestDir    string
	chatQuestion string
	noLog        bool
	clearConfirm bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Rebuild the collection from a directory of .txt documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			dir := ingestDir
			if dir == "" {
				dir = a.Config.DataDir
			}
			a.Logger.Info("ingesting documents",
				zap.String("dir", dir),
				zap.String("embedding_provider", a.Config.Embeddings.Provider),
				zap.String("embedding_model", a.Config.Embeddings.Model))

			report, err := a.Ingestion().IngestDirectory(ctx, dir)
			for _, f := range report.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", f.Path, f.Err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks from %d documents into %q\n",
				report.Chunks, len(report.Documents), report.Collection)
			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask a question, or start an interactive session when --question is omitted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			svc, err := a.Chat()
			if err != nil {
				return err
			}

			var recorder *auditlog.Writer
			if !noLog && a.Config.InteractionLogPath != "" {
				recorder = auditlog.NewWriter(a.Config.InteractionLogPath, a.Logger, auditlog.DefaultConfig())
				if err := recorder.Start(); err != nil {
					return err
				}
				defer func() {
					if err := recorder.Stop(shutdownTimeout); err != nil {
						a.Logger.Warn("stop interaction log", zap.Error(err))
					}
				}()
			}

			ask := func(question string, history []string) error {
				answer, err := svc.Answer(ctx, question, history)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), answer.Response)
				if recorder != nil {
					if err := recorder.Record(answer.Log); err != nil {
						a.Logger.Warn("interaction log not recorded", zap.Error(err))
					}
				}
				return nil
			}

			if strings.TrimSpace(chatQuestion) != "" {
				return ask(chatQuestion, nil)
			}

			var history []string
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(cmd.OutOrStdout(), "\n> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				question := strings.TrimSpace(scanner.Text())
				switch question {
				case "":
					continue
				case "exit", "quit":
					return nil
				}
				if err := ask(question, history); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
					continue
				}
				history = append(history, question)
			}
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			svc, err := a.Chat()
			if err != nil {
				return err
			}

			deps := api.Dependencies{
				Chat:     svc,
				Ingester: a.Ingestion(),
				Clearer:  a,
				DataDir:  a.Config.DataDir,
				Logger:   a.Logger,
			}
			if a.Config.InteractionLogPath != "" {
				recorder := auditlog.NewWriter(a.Config.InteractionLogPath, a.Logger, auditlog.DefaultConfig())
				if err := recorder.Start(); err != nil {
					return err
				}
				defer func() {
					if err := recorder.Stop(shutdownTimeout); err != nil {
						a.Logger.Warn("stop interaction log", zap.Error(err))
					}
				}()
				deps.Recorder = recorder
			}

			srv := &http.Server{
				Addr:              a.Config.HTTPAddr,
				Handler:           api.New(deps),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.Logger.Info("listening", zap.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			a.Logger.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the collection and its knowledge graph mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirm {
			fmt.Fprint(cmd.OutOrStdout(), "This will permanently delete the indexed collection. Continue? [y/N]: ")
			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read confirmation: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "clear aborted")
				return nil
			}
			answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
			if answer != "y" && answer != "yes" {
				fmt.Fprintln(cmd.OutOrStdout(), "clear aborted")
				return nil
			}
		}

		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "collection %q removed\n", a.Config.Index.Collection)
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what the active collection contains",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			stats, err := a.Stats(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "collection: %s (%s)\n", stats.Collection, stats.Backend)
			fmt.Fprintf(out, "chunks:     %d\n", stats.Chunks)
			if stats.Dimension > 0 {
				fmt.Fprintf(out, "dimension:  %d\n", stats.Dimension)
			} else {
				fmt.Fprintln(out, "dimension:  learned from the embedding model")
			}
			if len(stats.Documents) > 0 {
				fmt.Fprintln(out, "documents:")
				for _, d := range stats.Documents {
					date := d.EffectiveDate
					if date == "" {
						date = "unknown"
					}
					fmt.Fprintf(out, "  %-40s %-10s %d chunks\n", d.Name, date, d.ChunkCount)
				}
			}
			return nil
		})
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "directory of .txt documents (defaults to DATA_DIR)")
	chatCmd.Flags().StringVarP(&chatQuestion, "question", "q", "", "question to ask")
	chatCmd.Flags().BoolVar(&noLog, "no-log", false, "do not append to the interaction log")
	clearCmd.Flags().BoolVar(&clearConfirm, "confirm", false, "skip confirmation prompt")

	rootCmd.AddCommand(ingestCmd, chatCmd, serveCmd, clearCmd, statsCmd)
}
