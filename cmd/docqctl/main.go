// docqctl is an operator CLI for the document pipeline: enqueue jobs,
// inspect job status, dump queue stats and export extraction results.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tenderflow/docpipe/constants"
	"github.com/tenderflow/docpipe/internal/common"
	"github.com/tenderflow/docpipe/internal/export"
	"github.com/tenderflow/docpipe/internal/pipeline"
	"github.com/tenderflow/docpipe/internal/queue"
	"github.com/tenderflow/docpipe/internal/repository"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)
	_ = godotenv.Load()
	cfg := common.LoadConfig()

	root := &cobra.Command{
		Use:           "docqctl",
		Short:         "Operate the document processing queues",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		enqueueCmd(cfg, logger),
		statusCmd(cfg, logger),
		statsCmd(cfg, logger),
		healthCmd(cfg),
		exportCmd(cfg, logger),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openBackend(cfg *common.Config) (queue.Backend, error) {
	switch cfg.Queue.Backend {
	case "redis":
		return queue.NewRedisBackend(queue.RedisConfig{
			Addr:   cfg.Queue.RedisAddr,
			DB:     cfg.Queue.RedisDB,
			Prefix: cfg.Queue.RedisPrefix,
		}), nil
	case "memory":
		return nil, fmt.Errorf("memory backend is in-process only; point QUEUE_BACKEND at sqlite or redis")
	default:
		return queue.NewSQLiteBackend(cfg.Queue.SQLitePath)
	}
}

func enqueueCmd(cfg *common.Config, logger *slog.Logger) *cobra.Command {
	var priority, maxAttempts int
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "enqueue <queue> [payload.json]",
		Short: "Validate and enqueue a job; reads stdin when no file is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			queueName := args[0]
			schema, ok := pipeline.Schemas()[queueName]
			if !ok {
				return fmt.Errorf("unknown queue %q (one of %v)", queueName, constants.QueueNames)
			}

			var raw []byte
			var err error
			if len(args) == 2 {
				raw, err = os.ReadFile(args[1])
			} else {
				raw, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("reading payload: %w", err)
			}

			backend, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			q, err := queue.NewQueue(queueName, backend, schema, logger)
			if err != nil {
				return err
			}
			jobID, err := q.Enqueue(cmd.Context(), json.RawMessage(raw), queue.Options{
				Priority:    priority,
				Delay:       delay,
				MaxAttempts: maxAttempts,
			})
			if err != nil {
				return err
			}
			fmt.Println(jobID)
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority, higher runs first")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before the job becomes visible")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "retry budget, 0 = default")
	return cmd
}

func statusCmd(cfg *common.Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status <queue> <job-id>",
		Short: "Show one job's status, attempts and last error",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			job, err := backend.Job(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(pipeline.JobStatus{
				JobID:    job.ID,
				Queue:    job.Queue,
				Status:   string(job.Status),
				Progress: pipeline.JobProgress(job),
				Attempts: job.Attempts,
				Result:   job.Result,
				Error:    job.LastError,
			})
		},
	}
}

func statsCmd(cfg *common.Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print per-queue job counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			out := make(map[string]queue.Counts, len(constants.QueueNames))
			for _, name := range constants.QueueNames {
				counts, err := backend.Counts(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("counting %s: %w", name, err)
				}
				out[name] = counts
			}
			return printJSON(out)
		},
	}
}

func healthCmd(cfg *common.Config) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Fetch the daemon's health snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if strings.HasPrefix(addr, ":") {
				addr = "localhost" + addr
			}
			url := "http://" + addr + "/healthz"
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("reaching %s: %w", url, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading health response: %w", err)
			}
			os.Stdout.Write(body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("daemon reports %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", cfg.Server.HTTPAddr, "daemon health address")
	return cmd
}

func exportCmd(cfg *common.Config, logger *slog.Logger) *cobra.Command {
	var limit int
	var outPath string
	cmd := &cobra.Command{
		Use:   "export <tenant-id>",
		Short: "Export recent extraction results to an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			pool, err := repository.Open(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := export.NewService(repository.NewPGStore(pool, logger), logger)
			data, err := svc.ExportResultsXLSX(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(data), outPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rows to export")
	cmd.Flags().StringVar(&outPath, "out", "results.xlsx", "output file path")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
