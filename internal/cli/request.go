package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/casedesk/relay/client"
	"github.com/casedesk/relay/dispatch"
	"github.com/casedesk/relay/observability"
	"github.com/casedesk/relay/transport"
)

type requestFlags struct {
	data    string
	headers []string
	query   []string
	long    bool
	verbose bool
}

func newRequestCommand(flags *globalFlags) *cobra.Command {
	rf := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send one call and print the response body",
		Example: `  relay request GET /families
  relay request POST /orphans --data '{"name":"Yusuf"}'
  relay request POST /imports --long --data @payload.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, flags, rf, strings.ToUpper(args[0]), args[1])
		},
	}
	cmd.Flags().StringVarP(&rf.data, "data", "d", "", "JSON request body")
	cmd.Flags().StringArrayVarP(&rf.headers, "header", "H", nil, "extra header as key:value (repeatable)")
	cmd.Flags().StringArrayVarP(&rf.query, "query", "q", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&rf.long, "long", false, "use the long-running timeout")
	cmd.Flags().BoolVarP(&rf.verbose, "verbose", "v", false, "print status, profile and attempts to stderr")
	return cmd
}

func runRequest(cmd *cobra.Command, flags *globalFlags, rf *requestFlags, method, path string) error {
	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	log := flags.newLogger(cfg, cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	provider, err := observability.Setup(ctx, &observability.Config{
		Enabled:        cfg.Observability.Enabled,
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Env,
		Exporter:       cfg.Observability.Exporter,
		Endpoint:       cfg.Observability.Endpoint,
		Protocol:       cfg.Observability.Protocol,
		Insecure:       cfg.Observability.Insecure,
		Interval:       cfg.Observability.Interval,
	}, observability.WithWriter(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer func() { _ = observability.Shutdown(provider, 0) }()

	opts, err := rf.descriptorOptions()
	if err != nil {
		return err
	}

	c, err := client.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	body, err := rf.body()
	if err != nil {
		return err
	}
	resp, err := c.Request(ctx, method, path, body, opts...)
	if err != nil {
		if msg := client.UserMessage(err, flags.lang); msg != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), msg)
		}
		return err
	}

	if rf.verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "status=%d profile=%s attempts=%d\n", resp.Status, resp.Profile, resp.Attempts)
	}
	out := cmd.OutOrStdout()
	if len(resp.Body) > 0 {
		fmt.Fprintln(out, strings.TrimRight(string(resp.Body), "\n"))
	}
	return nil
}

// body returns the request payload. A value starting with @ names a file.
func (rf *requestFlags) body() (any, error) {
	switch {
	case rf.data == "":
		return nil, nil
	case strings.HasPrefix(rf.data, "@"):
		data, err := os.ReadFile(strings.TrimPrefix(rf.data, "@"))
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		return data, nil
	default:
		return []byte(rf.data), nil
	}
}

func (rf *requestFlags) descriptorOptions() ([]dispatch.DescriptorOption, error) {
	var opts []dispatch.DescriptorOption
	for _, h := range rf.headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected key:value", h)
		}
		opts = append(opts, dispatch.WithHeader(strings.TrimSpace(k), strings.TrimSpace(v)))
	}
	if len(rf.query) > 0 {
		q := url.Values{}
		for _, kv := range rf.query {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("invalid query parameter %q, expected key=value", kv)
			}
			q.Add(k, v)
		}
		opts = append(opts, dispatch.WithQuery(q))
	}
	if rf.long {
		opts = append(opts, dispatch.WithClass(transport.ClassLongRunning))
	}
	return opts, nil
}
