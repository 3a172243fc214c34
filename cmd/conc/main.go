package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"concourse/config"
	"concourse/internal/backend"
	"concourse/internal/cli"
	"concourse/internal/constitution"
	"concourse/internal/credentials"
	"concourse/internal/dispatch"
	"concourse/internal/history"
	"concourse/internal/onboarding"
	"concourse/internal/session"
	"concourse/internal/storage"
	"concourse/internal/threadcache"
	"concourse/internal/tui"
	"concourse/internal/view"
	"concourse/updater"
	"concourse/version"
)

var rootCmd = &cobra.Command{
	Use:   "conc",
	Short: "Concourse",
	Long:  "Concourse runs one message through many constitution configurations side by side.",
	Run: func(cmd *cobra.Command, args []string) {
		if onboarding.IsFirstRun() {
			done, err := onboarding.RunWizard()
			if err != nil {
				fmt.Fprintln(os.Stderr, onboarding.FailureText(err))
				os.Exit(1)
			}
			if !done {
				return
			}
		}

		if err := launchTUI(); err != nil {
			log.Fatalf("Error running UI: %v", err)
		}
	},
}

// launchTUI wires the full stack: sqlite-backed session store, thread cache,
// history loader, run dispatcher, and the pager, then hands them to the UI.
func launchTUI() error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := session.NewStore(session.NewSQLiteStore(db))
	if err != nil {
		return fmt.Errorf("loading sessions: %w", err)
	}
	defer store.Shutdown()
	if store.ActiveSessionID() == "" {
		sess := store.CreateSession("")
		if err := store.SetActiveSession(sess.ID); err != nil {
			return err
		}
		if _, err := store.AddThreadConfig(sess.ID); err != nil {
			return err
		}
	}

	client, err := newBackendClient()
	if err != nil {
		return err
	}

	// Retarget the client when backends.yaml is edited while the UI runs.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go config.WatchBackendRegistry(stopWatch, func(registry *config.BackendRegistry) {
		backendConf, err := registry.DefaultBackend()
		if err != nil {
			log.Printf("Error applying reloaded backend registry: %v", err)
			return
		}
		token, err := resolveAuthToken(backendConf)
		if err != nil {
			log.Printf("Error resolving auth token for %s: %v", backendConf.Name, err)
			return
		}
		client.SetTarget(backendConf.BaseURL, token)
		log.Printf("Backend retargeted to %s", backendConf.BaseURL)
	})

	cache := threadcache.New()
	defer cache.Shutdown()
	loader := history.NewLoader(cache, client)
	defer loader.Wait()

	dispatcher := dispatch.NewDispatcher(cache, client)
	dispatcher.OnThreadBound = func(configID, tempID, threadID string) {
		if err := store.BindThreadByConfig(configID, threadID); err != nil {
			log.Printf("Error binding thread %s to config %s: %v", threadID, configID, err)
		}
	}
	defer dispatcher.Wait()

	pager := view.New(loader, tui.MinColumnWidth)

	logFile, err := setupLogging()
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	return tui.Start(tui.Deps{
		Store:      store,
		Cache:      cache,
		Loader:     loader,
		Dispatcher: dispatcher,
		Pager:      pager,
	})
}

func openDatabase() (*sql.DB, error) {
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func newBackendClient() (*backend.HTTPClient, error) {
	registry, err := config.LoadBackendRegistry()
	if err != nil {
		return nil, err
	}
	backendConf, err := registry.DefaultBackend()
	if err != nil {
		return nil, err
	}
	token, err := resolveAuthToken(backendConf)
	if err != nil {
		return nil, err
	}
	return backend.NewHTTPClient(backendConf.BaseURL, token), nil
}

// resolveAuthToken prefers the token from backends.yaml and falls back to
// the one stored in the system keyring.
func resolveAuthToken(conf *config.BackendConfig) (string, error) {
	if conf.AuthToken != "" {
		return conf.AuthToken, nil
	}
	token, err := credentials.GetAPIToken()
	if err != nil && err != credentials.ErrNotFound {
		return "", err
	}
	return token, nil
}

// setupLogging sends the standard logger to a file so log lines don't tear
// the alternate screen.
func setupLogging() (io.Closer, error) {
	logPath, err := config.GetClientLogPath()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(f)
	return f, nil
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions and their thread configs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()
		store, err := session.NewStore(session.NewSQLiteStore(db))
		if err != nil {
			return err
		}
		defer store.Shutdown()
		return cli.ListSessions(os.Stdout, store)
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a saved session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()
		store, err := session.NewStore(session.NewSQLiteStore(db))
		if err != nil {
			return err
		}
		defer store.Shutdown()
		return cli.DeleteSession(os.Stdout, store, args[0])
	},
}

var constitutionCmd = &cobra.Command{
	Use:   "constitution",
	Short: "Browse and submit constitution modules",
}

var constitutionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available constitution modules",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, cleanup, err := openCatalog()
		if err != nil {
			return err
		}
		defer cleanup()
		return cli.ListConstitutions(cmd.Context(), os.Stdout, catalog)
	},
}

var constitutionShowCmd = &cobra.Command{
	Use:   "show <module-id>",
	Short: "Print a constitution module's full text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, cleanup, err := openCatalog()
		if err != nil {
			return err
		}
		defer cleanup()
		return cli.ShowConstitution(cmd.Context(), os.Stdout, catalog, args[0])
	},
}

var constitutionVisibility string

var constitutionSubmitCmd = &cobra.Command{
	Use:   "submit <file|->",
	Short: "Submit a constitution for review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, cleanup, err := openCatalog()
		if err != nil {
			return err
		}
		defer cleanup()
		return cli.SubmitConstitution(cmd.Context(), os.Stdout, catalog, args[0], constitutionVisibility)
	},
}

func openCatalog() (*constitution.Catalog, func(), error) {
	db, err := openDatabase()
	if err != nil {
		return nil, nil, err
	}
	client, err := newBackendClient()
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return constitution.NewCatalog(db, client), func() { db.Close() }, nil
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets in the system keyring",
}

func withRegistry(fn func(ctx context.Context, r *credentials.Registry) error) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(context.Background(), credentials.NewRegistry(db))
}

var secretValue string

var secretCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Store a new secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, r *credentials.Registry) error {
			return cli.CreateSecret(ctx, r, args[0], secretValue)
		})
	},
}

var secretUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Replace an existing secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, r *credentials.Registry) error {
			return cli.UpdateSecret(ctx, r, args[0], secretValue)
		})
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, r *credentials.Registry) error {
			return cli.DeleteSecret(ctx, r, args[0])
		})
	},
}

var secretStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Check whether a secret is stored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.SecretStatus(args[0])
	},
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secret names",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, r *credentials.Registry) error {
			return cli.ListSecrets(ctx, r)
		})
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose configuration, credentials, and backend connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		exitCode, err := cli.Doctor(os.Stdout)
		if err != nil {
			return err
		}
		if exitCode != 0 {
			os.Exit(exitCode)
		}
		return nil
	},
}

var installUpdate bool

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for a newer release",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := updater.CheckForUpdates()
		if err != nil {
			return err
		}
		if !info.Available {
			fmt.Printf("Already on the latest version (%s)\n", info.CurrentVersion)
			return nil
		}
		fmt.Printf("Update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
		if !installUpdate {
			fmt.Println("Run 'conc update --install' to install it")
			return nil
		}
		if err := updater.DownloadAndInstall(info); err != nil {
			return err
		}
		fmt.Println("Updated. Restart conc to use the new version.")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get())
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)

	constitutionSubmitCmd.Flags().StringVar(&constitutionVisibility, "visibility", "private", "who can see the submitted constitution (private or public)")
	constitutionCmd.AddCommand(constitutionListCmd, constitutionShowCmd, constitutionSubmitCmd)

	secretCreateCmd.Flags().StringVar(&secretValue, "value", "", "secret value (prompted when omitted)")
	secretUpdateCmd.Flags().StringVar(&secretValue, "value", "", "secret value (prompted when omitted)")
	secretCmd.AddCommand(secretCreateCmd, secretUpdateCmd, secretDeleteCmd, secretStatusCmd, secretListCmd)

	updateCmd.Flags().BoolVar(&installUpdate, "install", false, "download and install the update")

	rootCmd.AddCommand(sessionsCmd, constitutionCmd, secretCmd, doctorCmd, updateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
