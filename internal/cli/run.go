package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const taskGenerationFailed = "Task generation failed"

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error status=%d code=%s message=%s", e.Status, e.Code, e.Message)
}

// cliError carries the structured error written to stdout and the process exit code.
type cliError struct {
	code    string
	message string
	status  int
	exit    int
}

func (e *cliError) Error() string {
	return e.code + ": " + e.message
}

func usageError(code string, message string) error {
	return &cliError{code: code, message: message, exit: exitUsage}
}

type globalOptions struct {
	baseURL string
	timeout time.Duration
	output  string
	noColor bool
}

func (o *globalOptions) client() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(strings.TrimSpace(o.baseURL), "/"),
		httpClient: &http.Client{
			Timeout: o.timeout,
		},
	}
}

func Run(args []string, stdout io.Writer, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitOK
	}

	var cliErr *cliError
	if errors.As(err, &cliErr) {
		writeCLIError(stdout, cliErr.code, cliErr.message, cliErr.status)
		return cliErr.exit
	}
	writeCLIError(stdout, "invalid_arguments", err.Error(), 0)
	return exitUsage
}

func newRootCommand(stdout io.Writer, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "taskplan",
		Short:         "Client for the task plan generation service",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError("missing_command", usageText())
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "json", "yaml", "text":
			default:
				return usageError("invalid_output", fmt.Sprintf("unsupported output format %q (json, yaml, text)", opts.output))
			}
			if opts.timeout <= 0 {
				return usageError("invalid_timeout", "timeout must be positive")
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.baseURL, "base-url", envOrDefault("TASKPLAN_BASE_URL", "http://localhost:8000"), "Task plan API base URL")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "HTTP timeout, e.g. 90s")
	flags.StringVarP(&opts.output, "output", "o", "json", "Output format: json, yaml or text")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored text output")

	root.AddCommand(
		newHealthCommand(opts, stdout),
		newProvidersCommand(opts, stdout),
		newGenerateCommand(opts, stdout),
	)
	return root
}

func newHealthCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the service is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := opts.client().request(cmd.Context(), "/api/health")
			if err != nil {
				return requestFailure(err)
			}
			return render(stdout, opts, body, writeHealthText)
		},
	}
}

func newProvidersCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the configured language-model providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := opts.client().request(cmd.Context(), "/api/providers")
			if err != nil {
				return requestFailure(err)
			}
			return render(stdout, opts, body, writeProvidersText)
		},
	}
}

func newGenerateCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var (
		identity string
		coreNum  int
		subNum   int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a task plan",
		Long: `Ask the service for a plan of core tasks, each with the same number of sub-tasks.

Omitted flags fall back to the server's configured defaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if cmd.Flags().Changed("identity") {
				if strings.TrimSpace(identity) == "" {
					return usageError("missing_identity", "generate requires a non-empty --identity")
				}
				query.Set("identity", identity)
			}
			if cmd.Flags().Changed("core") {
				query.Set("coreNum", strconv.Itoa(coreNum))
			}
			if cmd.Flags().Changed("sub") {
				query.Set("subNum", strconv.Itoa(subNum))
			}

			path := "/generate_tasks"
			if encoded := query.Encode(); encoded != "" {
				path += "?" + encoded
			}

			body, err := opts.client().request(cmd.Context(), path)
			if err != nil {
				return requestFailure(err)
			}
			if isGenerationFailure(body) {
				return &cliError{code: "task_generation_failed", message: taskGenerationFailed, exit: exitFailure}
			}
			return render(stdout, opts, body, writePlanText)
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Who the plan is for, e.g. \"小明 CS本科生\"")
	cmd.Flags().IntVar(&coreNum, "core", 0, "Number of core tasks")
	cmd.Flags().IntVar(&subNum, "sub", 0, "Number of sub-tasks per core task")
	return cmd
}

func requestFailure(err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return &cliError{code: apiErr.Code, message: apiErr.Message, status: apiErr.Status, exit: exitFailure}
	}
	return &cliError{code: "request_failed", message: err.Error(), exit: exitFailure}
}

func isGenerationFailure(body []byte) bool {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	return envelope.Error == taskGenerationFailed
}

func (c *apiClient) request(ctx context.Context, path string) ([]byte, error) {
	requestURL, err := c.resolveURL(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	responseBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode >= 400 {
		apiErr := &apiError{
			Status:  res.StatusCode,
			Code:    "http_error",
			Message: strings.TrimSpace(string(responseBody)),
		}

		var envelope struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(responseBody, &envelope); err == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
			if res.StatusCode == http.StatusUnprocessableEntity {
				apiErr.Code = "invalid_request"
			}
		}

		return nil, apiErr
	}

	return responseBody, nil
}

func (c *apiClient) resolveURL(path string) (string, error) {
	base := strings.TrimSpace(c.baseURL)
	if base == "" {
		return "", errors.New("base URL is required")
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	pathURL, err := url.Parse(path)
	if err != nil {
		return "", err
	}

	return baseURL.ResolveReference(pathURL).String(), nil
}

func writeCLIError(output io.Writer, code string, message string, status int) {
	payload := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if status > 0 {
		payload["error"].(map[string]any)["status"] = status
	}

	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func usageText() string {
	return strings.Join([]string{
		"usage: taskplan [global flags] <command> [command flags]",
		"commands: health, providers, generate",
		"global flags: --base-url --timeout --output --no-color",
	}, "\n")
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
