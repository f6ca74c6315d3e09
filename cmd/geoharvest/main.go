package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pbaille/geoharvest/internal/api"
	"github.com/pbaille/geoharvest/internal/config"
	"github.com/pbaille/geoharvest/internal/domain"
	"github.com/pbaille/geoharvest/internal/harvest"
	"github.com/pbaille/geoharvest/internal/notify"
	"github.com/pbaille/geoharvest/internal/reconcile"
	"github.com/pbaille/geoharvest/internal/store"
)

var (
	dbPath     string
	configPath string
	logLevel   string
)

func main() {
	// Default file locations
	home, _ := os.UserHomeDir()
	defaultDir := filepath.Join(home, ".geoharvest")

	rootCmd := &cobra.Command{
		Use:           "geoharvest",
		Short:         "Harvest geographic catalogs into a dataset inventory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default "+filepath.Join(defaultDir, "geoharvest.db")+", env HARVEST_DB)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+filepath.Join(defaultDir, "config.yaml")+", env HARVEST_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (env HARVEST_LOG_LEVEL)")

	rootCmd.AddCommand(sourcesCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(datasetsCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(licensesCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(serveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env is the process state the CLI wires into every command.
type env struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger
}

func setup() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger, err := newLogger(level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	path := dbPath
	if path == "" {
		path = cfg.Database
	}
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".geoharvest", "geoharvest.db")
	}
	s, err := getStore(path)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, store: s, logger: logger}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}

// loadConfig reads the config file. A missing file is only an error when its
// path was given explicitly.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("HARVEST_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".geoharvest", "config.yaml")
	}

	cfg, err := config.Load(path)
	if err != nil && !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Parse(nil)
	}
	return cfg, err
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func getStore(path string) (*store.Store, error) {
	// Ensure directory exists
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	return store.New(path)
}

// newSink picks the notification channel: webhook, then SMTP, then the log.
func newSink(cfg *config.Config, dryRun bool, logger *slog.Logger) notify.Sink {
	n := cfg.Notify
	switch {
	case dryRun:
	case n.WebhookURL != "":
		return notify.NewWebhookSink(n.WebhookURL)
	case n.SMTP.Addr != "":
		return notify.NewSMTPSink(n.SMTP.Addr, n.SMTP.Username, n.SMTP.Password)
	}
	return notify.LogSink{Logger: logger}
}

func newRunner(e *env, dryRun bool) *harvest.Runner {
	engine := reconcile.New(e.store, e.store, newSink(e.cfg, dryRun, e.logger), reconcile.Config{
		Sender:     e.cfg.Notify.Sender,
		ServerName: e.cfg.Notify.ServerName,
		Subject:    e.cfg.Notify.Subject,
	}, e.logger)
	return harvest.NewRunner(e.store, e.store, e.store, engine, e.logger)
}

func sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if len(cfg.Sources) == 0 {
				fmt.Println("No sources configured. Add them to the config file.")
				return nil
			}

			for _, s := range cfg.Sources {
				ssl := ""
				if !s.VerifySSL {
					ssl = "  (tls unverified)"
				}
				fmt.Printf("%-12s %-5s %s%s\n", s.Name, s.Backend, s.URL, ssl)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var (
		all    bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "run [source...]",
		Short: "Harvest one or more sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			var sources []config.Source
			switch {
			case all:
				sources = e.cfg.Sources
			case len(args) == 0:
				return fmt.Errorf("name a source or pass --all")
			default:
				for _, name := range args {
					src, ok := e.cfg.Source(name)
					if !ok {
						return fmt.Errorf("unknown source: %s", name)
					}
					sources = append(sources, src)
				}
			}

			runner := newRunner(e, dryRun)
			var failed int
			for _, src := range sources {
				job, err := runner.Run(cmd.Context(), src)
				if job != nil {
					fmt.Printf("%s  %-12s %-7s items=%d failed=%d stale=%d\n",
						job.ID[:8], src.Name, job.Status, job.Items, job.Failed, job.Stale)
				}
				if err != nil {
					fmt.Printf("  error: %v\n", err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs failed", failed, len(sources))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "harvest every configured source")
	cmd.Flags().BoolVar(&dryRun, "dry-run-notify", false, "log notifications instead of sending them")
	return cmd
}

func datasetsCmd() *cobra.Command {
	var (
		domainName string
		private    bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List harvested datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			f := domain.DatasetFilter{Domain: domainName, Limit: limit}
			if cmd.Flags().Changed("private") {
				f.Private = &private
			}
			datasets, err := e.store.Query(cmd.Context(), f)
			if err != nil {
				return err
			}

			if len(datasets) == 0 {
				fmt.Println("No datasets yet. Use 'geoharvest run' to harvest a source.")
				return nil
			}

			for _, ds := range datasets {
				flag := " "
				if ds.Private {
					flag = "P"
				}
				fmt.Printf("%s %s  %-28s %s\n", ds.ID[:8], flag, truncate(ds.Extras[domain.ExtraDomain], 28), truncate(ds.Title, 60))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&domainName, "domain", "", "only datasets of this source domain")
	cmd.Flags().BoolVar(&private, "private", false, "only private (true) or public (false) datasets")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of datasets to show")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show dataset details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			ds, err := e.store.GetByPrefix(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("ID:       %s\n", ds.ID)
			fmt.Printf("Remote:   %s (%s)\n", ds.RemoteID, ds.SourceID)
			fmt.Printf("Title:    %s\n", ds.Title)
			fmt.Printf("Private:  %t\n", ds.Private)
			fmt.Printf("Created:  %s\n", ds.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Modified: %s\n", ds.LastModified.Format("2006-01-02 15:04:05"))
			if ds.License != nil {
				fmt.Printf("License:  %s\n", ds.License.Title)
			}
			if len(ds.Tags) > 0 {
				fmt.Printf("Tags:     %s\n", strings.Join(ds.Tags, ", "))
			}
			if ds.Description != "" {
				fmt.Printf("\n%s\n", ds.Description)
			}

			if len(ds.Resources) > 0 {
				fmt.Printf("\nResources:\n")
				for _, r := range ds.Resources {
					fmt.Printf("  - [%s] %s\n", r.Format, r.URL)
				}
			}

			if len(ds.Extras) > 0 {
				fmt.Printf("\nExtras:\n")
				for _, k := range slices.Sorted(maps.Keys(ds.Extras)) {
					fmt.Printf("  %s = %s\n", k, ds.Extras[k])
				}
			}
			return nil
		},
	}
}

func jobsCmd() *cobra.Command {
	var (
		source string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "jobs [id]",
		Short: "List harvest jobs, or show one with its item errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			if len(args) == 1 {
				job, err := e.store.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printJob(*job)
				for _, je := range job.Errors {
					fmt.Printf("  ! %s: %s\n", je.RemoteID, truncate(je.Message, 100))
				}
				return nil
			}

			jobs, err := e.store.ListJobs(cmd.Context(), source, limit)
			if err != nil {
				return err
			}

			if len(jobs) == 0 {
				fmt.Println("No jobs yet.")
				return nil
			}

			for _, j := range jobs {
				printJob(j)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "only jobs of this source")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to show")
	return cmd
}

func printJob(j domain.JobRecord) {
	fmt.Printf("%s  %-12s %-7s %s  items=%d failed=%d stale=%d\n",
		j.ID, j.Source, j.Status, j.StartedAt.Format("2006-01-02 15:04:05"), j.Items, j.Failed, j.Stale)
	if j.Error != "" {
		fmt.Printf("  error: %s\n", j.Error)
	}
}

func licensesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "licenses",
		Short: "List known licenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			licenses, err := e.store.ListLicenses(cmd.Context())
			if err != nil {
				return err
			}
			for _, l := range licenses {
				fmt.Printf("%-14s %s\n", l.ID, l.Title)
			}
			return nil
		},
	}
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage report recipients",
	}
	cmd.AddCommand(usersAddCmd())
	return cmd
}

func usersAddCmd() *cobra.Command {
	var (
		admin bool
		org   string
		role  string
	)

	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Add a user, optionally as member of an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			u, err := e.store.AddUser(cmd.Context(), args[0], admin)
			if err != nil {
				return err
			}
			fmt.Printf("User %s  %s  admin=%t\n", u.ID[:8], u.Email, u.IsAdmin)

			if org != "" {
				if err := e.store.AddMember(cmd.Context(), org, u.ID, role); err != nil {
					return err
				}
				fmt.Printf("  + %s (%s)\n", org, role)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&admin, "admin", false, "grant the global admin role")
	cmd.Flags().StringVar(&org, "org", "", "organization to join")
	cmd.Flags().StringVar(&role, "role", store.RoleAdmin, "role in the organization")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			server := api.New(e.store, newRunner(e, false), e.cfg, addr, e.logger)
			return server.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "server address")
	return cmd
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
