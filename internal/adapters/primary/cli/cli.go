package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"media-toolkit/health"
	"media-toolkit/internal/adapters/secondary/processors"
	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
	"media-toolkit/media"
	"media-toolkit/pkg/security"
)

// CLI represents the command line interface
type CLI struct {
	transforms ports.TransformService
	health     *health.HealthChecker
	tokens     *security.TokenAuth
}

// NewCLI creates a new CLI instance. health and tokens may be nil; the
// matching commands then report that they are unavailable.
func NewCLI(transforms ports.TransformService, checker *health.HealthChecker, tokens *security.TokenAuth) *CLI {
	return &CLI{
		transforms: transforms,
		health:     checker,
		tokens:     tokens,
	}
}

// Subcommand names per category. Operations not listed here keep their kind
// as the command name.
var commandNames = map[domain.OperationKind]string{
	domain.OpVideoTrim:      "trim",
	domain.OpVideoSpeed:     "speed",
	domain.OpVideoConvert:   "convert",
	domain.OpVideoWatermark: "watermark",
	domain.OpExtractAudio:   "extract-audio",
	domain.OpVideoToGif:     "gif",
	domain.OpGifToVideo:     "from-gif",
	domain.OpVideoMerge:     "merge",
	domain.OpVideoAddMusic:  "add-music",
	domain.OpImageCompress:  "compress",
	domain.OpImageResize:    "resize",
	domain.OpImageCrop:      "crop",
	domain.OpImageRotate:    "rotate",
	domain.OpImageConvert:   "convert",
	domain.OpImageWatermark: "watermark",
	domain.OpPDFMerge:       "merge",
	domain.OpPDFSplit:       "split",
	domain.OpPDFCompress:    "compress",
}

var categoryDescriptions = map[domain.Category]string{
	domain.CategoryVideo: "Trim, convert and edit videos with ffmpeg",
	domain.CategoryImage: "Compress, resize and edit images",
	domain.CategoryPDF:   "Merge, split and compress PDF documents",
}

// GetRootCommand returns the root cobra command
func (cli *CLI) GetRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "media-toolkit",
		Short: "Media Toolkit CLI - Transform video, image and PDF files locally",
		Long: `Media Toolkit CLI runs the toolkit's transformations on local files.

Every operation reads its inputs from the given paths and writes its
results into the output directory. Flags left unset keep the operation's
defaults.`,
		Version:       health.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	for _, category := range []domain.Category{domain.CategoryVideo, domain.CategoryImage, domain.CategoryPDF} {
		if cmd := cli.getCategoryCommand(category); cmd != nil {
			rootCmd.AddCommand(cmd)
		}
	}
	rootCmd.AddCommand(cli.getOperationsCommand())
	rootCmd.AddCommand(cli.getArgsCommand())
	rootCmd.AddCommand(cli.getHealthCommand())
	rootCmd.AddCommand(cli.getTokenCommand())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Media Toolkit CLI v%s\n", health.Version)
		},
	})

	return rootCmd
}

func (cli *CLI) getCategoryCommand(category domain.Category) *cobra.Command {
	ops := lo.Filter(cli.transforms.Operations(), func(op domain.Operation, _ int) bool {
		return op.Category == category
	})
	if len(ops) == 0 {
		return nil
	}

	categoryCmd := &cobra.Command{
		Use:   string(category),
		Short: categoryDescriptions[category],
	}
	for _, op := range ops {
		categoryCmd.AddCommand(cli.getOperationCommand(op))
	}
	return categoryCmd
}

// getOperationCommand builds one command per operation with a flag for
// every default parameter.
func (cli *CLI) getOperationCommand(op domain.Operation) *cobra.Command {
	name, ok := commandNames[op.Kind]
	if !ok {
		name = string(op.Kind)
	}

	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s [files...]", name),
		Short: op.Description,
		Long:  fmt.Sprintf("%s.\n\nTakes %s.", op.Description, fileCountText(op)),
		Args:  cobra.RangeArgs(op.MinFiles, op.MaxFiles),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.runOperation(cmd, op, args)
		},
	}
	cmd.Flags().StringP("output", "o", ".", "Output directory")
	cmd.Flags().Bool("quiet", false, "Do not report progress")
	addParamFlags(cmd, op.Defaults)
	return cmd
}

func fileCountText(op domain.Operation) string {
	if op.MinFiles == op.MaxFiles {
		if op.MinFiles == 1 {
			return "exactly 1 file"
		}
		return fmt.Sprintf("exactly %d files", op.MinFiles)
	}
	return fmt.Sprintf("%d to %d files", op.MinFiles, op.MaxFiles)
}

func flagName(param string) string {
	return strings.ReplaceAll(param, "_", "-")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

func addParamFlags(cmd *cobra.Command, defaults map[string]interface{}) {
	for _, key := range sortedKeys(defaults) {
		name := flagName(key)
		usage := "Sets " + key
		switch v := defaults[key].(type) {
		case bool:
			cmd.Flags().Bool(name, v, usage)
		case int:
			cmd.Flags().Int(name, v, usage)
		case int64:
			cmd.Flags().Int64(name, v, usage)
		case float64:
			cmd.Flags().Float64(name, v, usage)
		case string:
			cmd.Flags().String(name, v, usage)
		default:
			cmd.Flags().String(name, fmt.Sprint(v), usage)
		}
	}
}

// changedParams returns only the parameters set on the command line.
func changedParams(cmd *cobra.Command, defaults map[string]interface{}) map[string]interface{} {
	params := make(map[string]interface{})
	for key := range defaults {
		name := flagName(key)
		if cmd.Flags().Changed(name) {
			params[key] = cmd.Flags().Lookup(name).Value.String()
		}
	}
	return params
}

func readSources(paths []string) ([]domain.SourceFile, error) {
	files := make([]domain.SourceFile, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		files = append(files, domain.SourceFile{
			Name: filepath.Base(path),
			Size: int64(len(data)),
			Data: data,
		})
	}
	return files, nil
}

func (cli *CLI) runOperation(cmd *cobra.Command, op domain.Operation, args []string) error {
	outputDir, _ := cmd.Flags().GetString("output")
	quiet, _ := cmd.Flags().GetBool("quiet")

	files, err := readSources(args)
	if err != nil {
		return err
	}

	var progress domain.ProgressFunc
	if !quiet {
		stderr := cmd.ErrOrStderr()
		last := -1
		progress = func(fraction float64) {
			if p := media.ProgressPercent(fraction); p != last {
				last = p
				fmt.Fprintf(stderr, "\r%s: %3d%%", op.Kind, p)
			}
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := cli.transforms.Transform(ctx, &domain.TransformRequest{
		Operation: op.Kind,
		Files:     files,
		Params:    changedParams(cmd, op.Defaults),
	}, progress)
	if progress != nil {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", op.Kind, err)
	}

	written, err := writeArtifacts(outputDir, result.Artifacts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, path := range written {
		fmt.Fprintln(out, path)
	}
	if !quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "✅ %s finished in %s\n", op.Kind, result.Duration.Round(time.Millisecond))
	}
	return nil
}

func writeArtifacts(dir string, artifacts []domain.Artifact) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		path := filepath.Join(dir, filepath.Base(a.Name))
		if err := os.WriteFile(path, a.Data, 0644); err != nil {
			return nil, fmt.Errorf("failed to save output: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (cli *CLI) getOperationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List every operation with its defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), cli.transforms.Operations())
		},
	}
}

// getArgsCommand prints the ffmpeg invocations a video operation would run.
func (cli *CLI) getArgsCommand() *cobra.Command {
	argsCmd := &cobra.Command{
		Use:   "args [operation] [files...]",
		Short: "Print the ffmpeg arguments of a video operation without running it",
		Long: `Print the ffmpeg arguments of a video operation without running it.

File names are only used for their extensions and need not exist.
Parameters are passed with --set key=value.`,
		Args: cobra.MinimumNArgs(2),
		RunE: cli.printArgs,
	}
	argsCmd.Flags().StringToString("set", nil, "Operation parameter as key=value")
	return argsCmd
}

func (cli *CLI) printArgs(cmd *cobra.Command, args []string) error {
	op, err := cli.transforms.Operation(domain.OperationKind(args[0]))
	if err != nil {
		return err
	}
	if op.Category != domain.CategoryVideo {
		return fmt.Errorf("%s does not run ffmpeg", op.Kind)
	}
	set, _ := cmd.Flags().GetStringToString("set")

	req := &domain.TransformRequest{
		Operation: op.Kind,
		Files: lo.Map(args[1:], func(name string, _ int) domain.SourceFile {
			return domain.SourceFile{Name: filepath.Base(name)}
		}),
		Params: lo.MapValues(set, func(v string, _ string) interface{} { return v }),
	}
	plan, err := processors.BuildPlan(req)
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", op.Kind, err)
	}

	out := cmd.OutOrStdout()
	for _, pass := range plan.Passes {
		fmt.Fprintln(out, "ffmpeg "+strings.Join(pass.Args, " "))
	}
	fmt.Fprintf(out, "# output: %s (%s)\n", plan.DownloadName, plan.MimeType)
	return nil
}

func (cli *CLI) getHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check system health",
		Long:  "Check the transcoding engine, the queue and the built in processors",
		RunE:  cli.checkHealth,
	}
}

func (cli *CLI) checkHealth(cmd *cobra.Command, args []string) error {
	if cli.health == nil {
		return fmt.Errorf("health checks are not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := cli.health.GetHealthStatus(ctx)
	if err := printJSON(cmd.OutOrStdout(), status); err != nil {
		return err
	}
	if status.Status == "healthy" {
		fmt.Fprintf(cmd.ErrOrStderr(), "\n✅ System is healthy\n")
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "\n⚠️  System status: %s\n", status.Status)
	}
	return nil
}

func (cli *CLI) getTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	issueCmd := &cobra.Command{
		Use:   "issue [subject]",
		Short: "Issue a signed API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cli.tokens == nil {
				return fmt.Errorf("token signing is not configured; set SECURITY_JWT_SECRET")
			}
			scopes, _ := cmd.Flags().GetStringSlice("scope")
			token, err := cli.tokens.Issue(args[0], scopes)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().StringSlice("scope", []string{security.ScopeTools}, "Granted scopes (tools, jobs, admin)")

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
