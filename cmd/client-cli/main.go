package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"media-toolkit/cmd/client"
)

var (
	baseURL string
	token   string
	timeout time.Duration
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:          "media-toolkit-client",
		Short:        "Client for a running media toolkit service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "url", envOr("MEDIA_TOOLKIT_URL", "http://localhost:3001"), "Service URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("MEDIA_TOOLKIT_TOKEN"), "Bearer token")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Request timeout")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	root.AddCommand(
		operationsCommand(),
		runCommand(),
		submitCommand(),
		statusCommand(),
		batchCommand(),
		healthCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *client.Client {
	return client.NewClient(client.Config{BaseURL: baseURL, Token: token, Timeout: timeout})
}

func operationsCommand() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "operations",
		Short: "List the operations the service offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := newClient().Operations(cmd.Context(), category)
			if err != nil {
				return err
			}
			for _, op := range ops {
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %-6s %s\n", op.Kind, op.Category, op.Description)
				if verbose {
					keys := make([]string, 0, len(op.Defaults))
					for k := range op.Defaults {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(cmd.OutOrStdout(), "    %s=%v\n", k, op.Defaults[k])
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Filter by category: video, image or pdf")
	return cmd
}

func runCommand() *cobra.Command {
	var (
		params    map[string]string
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "run [operation] [files...]",
		Short: "Run an operation and download the result",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "🔧 %s on %d file(s)\n", args[0], len(args)-1)
			}
			result, err := newClient().RunTool(cmd.Context(), args[0], args[1:], params)
			if err != nil {
				return err
			}
			path, err := result.Save(outputDir)
			if err != nil {
				return err
			}
			if verbose && result.Cached {
				fmt.Fprintln(cmd.ErrOrStderr(), "♻️  Served from cache")
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&params, "set", nil, "Operation parameter as key=value")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory")
	return cmd
}

func submitCommand() *cobra.Command {
	var (
		params    map[string]string
		wait      bool
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "submit [operation] [files...]",
		Short: "Queue an operation as a background job",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			job, err := c.SubmitJob(cmd.Context(), args[0], args[1:], params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "📤 Job submitted: %s\n", job.ID)
			if !wait {
				fmt.Fprintln(cmd.OutOrStdout(), job.ID)
				return nil
			}
			return waitAndDownload(cmd, c, job.ID, outputDir)
		},
	}
	cmd.Flags().StringToStringVar(&params, "set", nil, "Operation parameter as key=value")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for completion and download the outputs")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory")
	return cmd
}

func statusCommand() *cobra.Command {
	var (
		download  bool
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show a job, optionally downloading its outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if download {
				return waitAndDownload(cmd, c, args[0], outputDir)
			}
			job, err := c.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, job)
		},
	}
	cmd.Flags().BoolVar(&download, "download", false, "Wait for completion and download the outputs")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory")
	return cmd
}

func batchCommand() *cobra.Command {
	var (
		params     map[string]string
		concurrent int
	)
	cmd := &cobra.Command{
		Use:   "batch [operation] [directory]",
		Short: "Run an operation as one job per file in a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := findFiles(args[1])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "⚠️  No files found in directory")
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "📊 Found %d files to process\n", len(files))

			jobs, err := newClient().BatchJobs(cmd.Context(), args[0], files, params, concurrent)
			for _, job := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", job.ID, job.Status)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "✅ Batch completed: %d jobs\n", len(jobs))
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&params, "set", nil, "Operation parameter as key=value")
	cmd.Flags().IntVar(&concurrent, "concurrent", 5, "Max concurrent jobs")
	return cmd
}

func healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check service health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := newClient().Health(cmd.Context())
			if report != nil && verbose {
				printJSON(cmd, report)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "✅ Service is healthy")
			return nil
		},
	}
}

func waitAndDownload(cmd *cobra.Command, c *client.Client, jobID, outputDir string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	job, err := c.WaitForJob(ctx, jobID, 2*time.Second)
	if err != nil {
		return err
	}
	for i := range job.Outputs {
		result, err := c.JobResult(ctx, job.ID, i)
		if err != nil {
			return err
		}
		path, err := result.Save(outputDir)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	return nil
}

func findFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
