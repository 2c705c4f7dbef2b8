package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/samvad-hq/remote-claims/internal/app"
	"github.com/samvad-hq/remote-claims/internal/config"
	"github.com/samvad-hq/remote-claims/internal/logger"
	"github.com/samvad-hq/remote-claims/pkg/claims"
	"github.com/samvad-hq/remote-claims/pkg/sources"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "claimfetch",
		Short:         "Fetch remote claim documents over HTTP or GraphQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newFetchCmd(), newCallCmd(), newSourcesCmd())
	return root
}

func newFetchCmd() *cobra.Command {
	var headers, query []string

	cmd := &cobra.Command{
		Use:   "fetch <source-id>",
		Short: "Fetch the claim document of a registered source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hdr, err := parsePairs("header", headers)
			if err != nil {
				return err
			}
			q, err := parsePairs("query", query)
			if err != nil {
				return err
			}

			return withApp(func(a *app.App) error {
				doc, err := a.FetchSource(cmd.Context(), args[0], sources.Overrides{
					Headers:         hdr,
					QueryParameters: q,
				})
				if err != nil {
					return err
				}
				return writeDocument(cmd.OutOrStdout(), doc)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra header as name=value (repeatable)")
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "query parameter or graphql variable as name=value (repeatable)")
	return cmd
}

func newCallCmd() *cobra.Command {
	var (
		baseURL     string
		contentType string
		graphQL     string
		post        bool
		headers     []string
		query       []string
		form        []string
	)

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Fetch a claim document from an ad-hoc request",
		Long: "Sends one request to --url. --graphql posts a GraphQL envelope with the query " +
			"parameters as variables; otherwise --form/--post send a url-encoded POST and the default is a GET.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hdr, err := parsePairs("header", headers)
			if err != nil {
				return err
			}
			q, err := parsePairs("query", query)
			if err != nil {
				return err
			}
			formFields, err := parsePairs("form", form)
			if err != nil {
				return err
			}
			if (post || cmd.Flags().Changed("form")) && formFields == nil {
				formFields = map[string]string{}
			}

			var gql *string
			if cmd.Flags().Changed("graphql") {
				gql = &graphQL
			}

			return withApp(func(a *app.App) error {
				doc, err := a.FetchAdHoc(cmd.Context(), claims.Request{
					BaseURL:         baseURL,
					ContentType:     contentType,
					Headers:         hdr,
					QueryParameters: q,
					Mode:            claims.ModeFor(formFields, gql),
				})
				if err != nil {
					return err
				}
				return writeDocument(cmd.OutOrStdout(), doc)
			})
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "absolute base url of the claim endpoint")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content-Type header (defaults to default_content_type)")
	cmd.Flags().StringVar(&graphQL, "graphql", "", "GraphQL query; switches the call to a GraphQL POST")
	cmd.Flags().BoolVar(&post, "post", false, "send a form POST even without --form fields")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "header as name=value (repeatable)")
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "query parameter or graphql variable as name=value (repeatable)")
	cmd.Flags().StringArrayVarP(&form, "form", "f", nil, "form field as name=value (repeatable)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List registered claim sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(a *app.App) error {
				reg, err := a.Sources()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, src := range reg.All() {
					fmt.Fprintf(out, "%s\t%s\t%s\n", src.ID, src.ModeName(), src.URL)
				}
				return nil
			})
		},
	}
}

// withApp loads config and logging, runs fn and flushes metrics and logs.
func withApp(fn func(a *app.App) error) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()
	logger.DebugObj("config loaded", "config", map[string]any{
		"env":          cfg.Env,
		"sources_file": cfg.SourcesFile,
		"metrics_file": cfg.MetricsFile,
	})

	a, err := app.New(cfg, log, nil)
	if err != nil {
		logger.ErrorObj("app init failed", "error", err.Error())
		return fmt.Errorf("init app: %w", err)
	}
	defer func() {
		err = errors.Join(err, a.Close())
		if err != nil {
			logger.ErrorObj("command failed", "error", err.Error())
		}
	}()

	return fn(a)
}

func parsePairs(flag string, raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, pair := range raw {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --%s %q (expected name=value)", flag, pair)
		}
		out[name] = value
	}
	return out, nil
}

func writeDocument(w io.Writer, doc claims.Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return nil
}
