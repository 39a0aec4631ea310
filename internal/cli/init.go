package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/kilupskalvis/libsync/internal/config"
	"github.com/kilupskalvis/libsync/internal/models"
	"github.com/kilupskalvis/libsync/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new libsync workspace",
	Long: `Initialize a new libsync workspace in the current directory.
This creates a .libsync directory holding the local database, the snapshot
cache and attachment storage. The personal library is registered right away.

Examples:
  libsync init --url https://sync.example.com --user-id 12 --token ls_abc`,
	Run: runInit,
}

var (
	initURL    string
	initUserID int
	initToken  string
)

func init() {
	initCmd.Flags().StringVar(&initURL, "url", envOrDefault(config.EnvServerURL, "http://localhost:8720"), "Library server URL")
	initCmd.Flags().IntVar(&initUserID, "user-id", 0, "Owner of the personal library")
	initCmd.Flags().StringVar(&initToken, "token", "", "API token (stored in the local database)")
}

func runInit(cmd *cobra.Command, args []string) {
	if _, err := config.FindRoot(); err == nil {
		exitError("libsync workspace already exists")
	}
	if initUserID <= 0 {
		exitError("--user-id is required")
	}

	cwd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}

	cfg, err := config.Initialize(cwd, initURL, initUserID)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		exitError("failed to create store: %v", err)
	}
	defer st.Close()

	if err := st.Initialize(); err != nil {
		exitError("failed to initialize store: %v", err)
	}
	if err := st.SetUserID(strconv.Itoa(initUserID)); err != nil {
		exitError("failed to store user ID: %v", err)
	}
	if initToken != "" {
		if err := st.SetAPIToken(initToken); err != nil {
			exitError("failed to store token: %v", err)
		}
	}
	if err := st.AddLibrary(&models.Library{ID: models.PersonalLibrary(), Name: "My Library"}); err != nil {
		exitError("failed to add personal library: %v", err)
	}

	fmt.Printf("Initialized libsync workspace in %s/\n", config.Dir)
	fmt.Printf("Syncing with %s as user %d\n", initURL, initUserID)
	if initToken == "" {
		fmt.Printf("\nNo token stored. Set %s or re-run init with --token.\n", config.EnvToken)
	}
}
