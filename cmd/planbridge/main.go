package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/planbridge/planbridge/internal/config"
	"github.com/planbridge/planbridge/internal/ingest"
	"github.com/planbridge/planbridge/internal/inventory"
	"github.com/planbridge/planbridge/internal/normalizer"
	"github.com/planbridge/planbridge/internal/parser"
	"github.com/planbridge/planbridge/internal/server"
)

var (
	version   = "dev"
	cfgFile   string
	dbPath    string
	logFormat string
	logLevel  string
	logger    *slog.Logger
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "planbridge",
		Short: "planbridge — IaC plan normalization and inventory",
		Long:  "Normalize Terraform plans, CloudFormation templates, and CDK cloud assemblies into one change format, and keep an inventory of what each deployment is about to do.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLogLevel(logLevel)
			if err != nil {
				return err
			}
			opts := &slog.HandlerOptions{Level: level}
			switch logFormat {
			case "json":
				logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
			case "text":
				logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
			default:
				return fmt.Errorf("invalid --log-format %q (use: text, json)", logFormat)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./planbridge.yaml)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format (text, json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		normalizeCmd(),
		ingestCmd(),
		plansCmd(),
		changesCmd(),
		edgesCmd(),
		exportCmd(),
		dbCmd(),
		serveCmd(),
		syncCmd(),
		versionCmd(),
		completionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore() (*inventory.SQLiteStore, *config.Config) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}

	path := cfg.Storage.Path
	if dbPath != "" {
		path = dbPath
	}

	store, err := inventory.NewSQLiteStore(path)
	if err != nil {
		logger.Error("opening database", "error", err)
		os.Exit(1)
	}

	if err := store.Init(context.Background()); err != nil {
		logger.Error("initializing database", "error", err)
		os.Exit(1)
	}

	return store, cfg
}

// --- normalize ---

func normalizeCmd() *cobra.Command {
	var output string
	var pretty bool

	cmd := &cobra.Command{
		Use:   "normalize <path>",
		Short: "Convert an IaC artifact to the normalized plan format",
		Long:  "Parse a Terraform plan JSON file, a CloudFormation template, or a CDK cloud assembly directory and print the normalized plan. Assemblies with several stacks emit one document per stack.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := parser.SafeResolvePath(args[0])
			if err != nil {
				return err
			}
			artifacts, skipped, err := parser.LoadPath(resolved)
			if err != nil {
				return err
			}
			for _, note := range skipped {
				_, _ = fmt.Fprintf(os.Stderr, "warning: %s\n", note)
			}

			norm := normalizer.New()
			for i := range artifacts {
				plan := norm.Normalize(&artifacts[i])
				data, err := plan.ToTerraformJSON()
				if err != nil {
					return err
				}

				switch output {
				case "json":
					if pretty {
						var buf bytes.Buffer
						if err := json.Indent(&buf, data, "", "  "); err != nil {
							return err
						}
						data = buf.Bytes()
					}
					fmt.Println(string(data))
				case "yaml":
					var doc map[string]any
					if err := json.Unmarshal(data, &doc); err != nil {
						return err
					}
					out, err := yaml.Marshal(doc)
					if err != nil {
						return err
					}
					if i > 0 {
						fmt.Println("---")
					}
					fmt.Print(string(out))
				default:
					return fmt.Errorf("unsupported --output %q (use: json, yaml)", output)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "json", "output format: json, yaml")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	return cmd
}

// --- ingest ---

func ingestCmd() *cobra.Command {
	var source string
	var all bool

	cmd := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Load IaC artifacts into the plan inventory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			ing := ingest.New(store, cfg, logger)

			switch {
			case all:
				results := ing.RunAllConfigured(cmd.Context())
				if len(results) == 0 {
					fmt.Println("No sources configured.")
					return nil
				}
				var failed bool
				for _, r := range results {
					printIngestResult(r)
					if r.Err != nil {
						failed = true
					}
				}
				if failed {
					return fmt.Errorf("one or more sources failed")
				}
				return nil

			case source != "":
				path, ok := cfg.Sources[source]
				if !ok {
					return fmt.Errorf("unknown source %q (configured: %s)",
						source, strings.Join(cfg.SourceNames(), ", "))
				}
				fmt.Printf("Ingesting source %s (%s)...\n", source, path)
				r := ing.RunSync(cmd.Context(), ingest.Request{Source: source, Path: path})
				printIngestResult(r)
				return r.Err

			case len(args) == 1:
				fmt.Printf("Ingesting %s...\n", args[0])
				r := ing.RunSync(cmd.Context(), ingest.Request{Path: args[0]})
				printIngestResult(r)
				return r.Err

			default:
				return fmt.Errorf("provide a path, --source, or --all")
			}
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "ingest a configured source by name")
	cmd.Flags().BoolVar(&all, "all", false, "ingest every configured source")
	return cmd
}

func printIngestResult(r ingest.Result) {
	if r.Err != nil {
		fmt.Printf("Ingest failed: %v\n", r.Err)
		return
	}
	fmt.Printf("Ingested %d plans, %d changes\n", r.Plans, r.Changes)
	for _, w := range r.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

// --- plans ---

func plansCmd() *cobra.Command {
	var format, stack, region, output string

	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List ingested plans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			plans, err := store.ListPlans(cmd.Context(), inventory.PlanFilter{
				SourceFormat: format, StackName: stack, Region: region,
			})
			if err != nil {
				return err
			}

			if output == "json" {
				return printJSON(plans)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tFORMAT\tSTACK\tREGION\tRESOURCES\tINGESTED")
			for _, p := range plans {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					p.ID, p.SourceFormat, orDash(p.StackName), orDash(p.Region),
					p.ResourceCount, p.IngestedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "filter by source format")
	cmd.Flags().StringVar(&stack, "stack", "", "filter by stack name")
	cmd.Flags().StringVar(&region, "region", "", "filter by region")
	cmd.Flags().StringVar(&output, "output", "table", "output format: table, json")
	return cmd
}

// --- changes ---

func changesCmd() *cobra.Command {
	var plan, changeType, action, address, output string

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List normalized resource changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			changes, err := store.ListChanges(cmd.Context(), inventory.ChangeFilter{
				PlanID: plan, Type: changeType, Action: action, Address: address,
			})
			if err != nil {
				return err
			}

			if output == "json" {
				return printJSON(changes)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "PLAN\tADDRESS\tTYPE\tACTIONS")
			for _, c := range changes {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					c.PlanID, c.Address, c.Type, strings.Join(c.Actions, ","))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&plan, "plan", "", "filter by plan id")
	cmd.Flags().StringVar(&changeType, "type", "", "filter by normalized type")
	cmd.Flags().StringVar(&action, "action", "", "filter by action (create, update, delete)")
	cmd.Flags().StringVar(&address, "address", "", "filter by address")
	cmd.Flags().StringVar(&output, "output", "table", "output format: table, json")
	return cmd
}

// --- edges ---

func edgesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edges <plan-id>",
		Short: "List dependency edges of a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup
			ctx := cmd.Context()

			plan, err := store.GetPlan(ctx, args[0])
			if err != nil {
				return err
			}
			if plan == nil {
				return fmt.Errorf("plan %q not found", args[0])
			}

			edges, err := store.ListEdges(ctx, args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "FROM\tTO")
			for _, e := range edges {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", e.FromAddress, e.ToAddress)
			}
			return w.Flush()
		},
	}
}

// --- export ---

func exportCmd() *cobra.Command {
	var format, plan, outFile string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the inventory in various formats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _ := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup
			ctx := cmd.Context()

			var output string
			var err error

			switch format {
			case "json":
				output, err = inventory.ExportJSON(ctx, store, plan)
			case "yaml":
				output, err = inventory.ExportYAML(ctx, store, plan)
			case "dot":
				output, err = inventory.ExportDOT(ctx, store, plan)
			case "mermaid":
				output, err = inventory.ExportMermaid(ctx, store, plan)
			default:
				return fmt.Errorf("unsupported format %q (use: json, yaml, dot, mermaid)", format)
			}

			if err != nil {
				return err
			}

			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(output), 0o600); err != nil {
					return fmt.Errorf("writing export: %w", err)
				}
				fmt.Printf("Exported to %s\n", outFile)
				return nil
			}

			fmt.Print(output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "export format: json, yaml, dot, mermaid")
	cmd.Flags().StringVar(&plan, "plan", "", "limit the export to one plan")
	cmd.Flags().StringVar(&outFile, "output", "", "write to file instead of stdout")
	return cmd
}

// --- db ---

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management",
	}
	cmd.AddCommand(dbStatsCmd(), dbBackupCmd())
	return cmd
}

func dbStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cfg := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup
			ctx := cmd.Context()

			path := cfg.Storage.Path
			if dbPath != "" {
				path = dbPath
			}

			// File size
			info, err := os.Stat(path)
			var sizeStr string
			if err == nil {
				sizeStr = formatBytes(info.Size())
			} else {
				sizeStr = "unknown"
			}

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			ingests, _ := store.ListIngests(ctx, 100)

			_, _ = fmt.Fprintf(os.Stdout, "Database: %s (%s)\n\n", path, sizeStr)
			_, _ = fmt.Fprintf(os.Stdout, "Plans: %d\n", stats.Plans)
			for f, c := range stats.PlansBySource {
				_, _ = fmt.Fprintf(os.Stdout, "  %-24s %d\n", f, c)
			}
			_, _ = fmt.Fprintf(os.Stdout, "\nChanges: %d\n", stats.Changes)
			for t, c := range stats.ChangesByType {
				_, _ = fmt.Fprintf(os.Stdout, "  %-24s %d\n", t, c)
			}
			_, _ = fmt.Fprintf(os.Stdout, "\nEdges: %d\n", stats.Edges)

			// Ingest summary
			statusCounts := make(map[string]int)
			for _, ing := range ingests {
				statusCounts[ing.Status]++
			}
			_, _ = fmt.Fprintf(os.Stdout, "\nIngests: %d total\n", len(ingests))
			for status, count := range statusCounts {
				_, _ = fmt.Fprintf(os.Stdout, "  %-24s %d\n", status, count)
			}

			return nil
		},
	}
}

func dbBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <output-path>",
		Short: "Copy database file to a backup location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			srcPath := cfg.Storage.Path
			if dbPath != "" {
				srcPath = dbPath
			}
			dstPath := args[0]

			// Check if destination exists
			if _, err := os.Stat(dstPath); err == nil {
				_, _ = fmt.Fprintf(os.Stdout, "File %s already exists. Overwrite? [y/N]: ", dstPath)
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				answer = strings.TrimSpace(strings.ToLower(answer))
				if answer != "y" && answer != "yes" {
					_, _ = fmt.Fprintln(os.Stdout, "Aborted.")
					return nil
				}
			}

			// Create parent directory
			if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
				return fmt.Errorf("creating backup directory: %w", err)
			}

			src, err := os.Open(srcPath) // #nosec G304 -- path from config/flag
			if err != nil {
				return fmt.Errorf("opening source database: %w", err)
			}
			defer src.Close() //nolint:errcheck // best-effort cleanup

			dst, err := os.Create(dstPath) // #nosec G304 -- path from user CLI arg
			if err != nil {
				return fmt.Errorf("creating backup file: %w", err)
			}
			defer dst.Close() //nolint:errcheck // best-effort cleanup

			n, err := io.Copy(dst, src)
			if err != nil {
				return fmt.Errorf("copying database: %w", err)
			}

			_, _ = fmt.Fprintf(os.Stdout, "Backed up %s to %s (%s)\n", srcPath, dstPath, formatBytes(n))
			return nil
		},
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// --- serve ---

func serveCmd() *cobra.Command {
	var listen string
	var readOnly bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cfg := openStore()

			if listen != "" {
				cfg.Server.Listen = listen
			}
			if readOnly {
				cfg.Server.ReadOnly = true
			}

			ing := ingest.New(store, cfg, logger)
			srv := server.New(store, ing, cfg, logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			// On-startup ingest
			if cfg.Ingest.OnStartup && len(cfg.Sources) > 0 {
				go func() {
					logger.Info("running startup ingest")
					for _, r := range ing.RunAllConfigured(context.Background()) {
						if r.Err != nil {
							logger.Error("startup ingest failed", "error", r.Err)
						} else {
							logger.Info("startup ingest completed", "ingestID", r.IngestID,
								"plans", r.Plans, "changes", r.Changes)
						}
					}
				}()
			}

			// Scheduled ingests
			if cfg.Ingest.Interval != "" {
				sched, err := ingest.NewScheduler(ing, cfg.Ingest.Interval, logger)
				if err != nil {
					logger.Error("invalid ingest interval", "error", err)
				} else {
					sched.Start(ctx)
					defer sched.Stop()
				}
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
				_ = store.Close()
			}()

			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config or :8080)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "disable ingest and delete endpoints")
	return cmd
}

// --- sync ---

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Mirror the inventory into a Memgraph/Neo4j instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cfg := openStore()
			defer store.Close() //nolint:errcheck // best-effort cleanup

			if cfg.Graph.URI == "" {
				return fmt.Errorf("graph.uri is not configured")
			}

			auth := neo4j.NoAuth()
			if cfg.Graph.Username != "" {
				auth = neo4j.BasicAuth(cfg.Graph.Username, cfg.Graph.Password, "")
			}

			driver, err := neo4j.NewDriverWithContext(cfg.Graph.URI, auth)
			if err != nil {
				return fmt.Errorf("connecting to graph database: %w", err)
			}
			defer driver.Close(context.Background()) //nolint:errcheck // best-effort cleanup

			return inventory.SyncToGraph(cmd.Context(), store, driver, logger)
		},
	}
}

// --- shared output helpers ---

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// --- version ---

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("planbridge %s\n", version)
		},
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid --log-level %q (use: debug, info, warn, error)", s)
	}
}

func completionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for planbridge.

To load completions:

Bash:
  $ source <(planbridge completion bash)
  # To load completions for each session, execute once:
  # Linux:
  $ planbridge completion bash > /etc/bash_completion.d/planbridge
  # macOS:
  $ planbridge completion bash > $(brew --prefix)/etc/bash_completion.d/planbridge

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc
  # To load completions for each session, execute once:
  $ planbridge completion zsh > "${fpath[1]}/_planbridge"
  # You will need to start a new shell for this setup to take effect.

Fish:
  $ planbridge completion fish | source
  # To load completions for each session, execute once:
  $ planbridge completion fish > ~/.config/fish/completions/planbridge.fish

PowerShell:
  PS> planbridge completion powershell | Out-String | Invoke-Expression
  # To load completions for every new session, add the output to your profile:
  PS> planbridge completion powershell >> $PROFILE
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
