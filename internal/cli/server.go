package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/kilupskalvis/libsync/internal/logging"
	"github.com/kilupskalvis/libsync/internal/remote"
	"github.com/kilupskalvis/libsync/internal/remote/server"
	"github.com/spf13/cobra"
)

var (
	serverListen      string
	serverDataDir     string
	serverLogLevel    string
	serverLogFormat   string
	serverTLSCert     string
	serverTLSKey      string
	serverWebhookURLs string

	serverAdminURL        string
	serverAdminToken      string
	serverTokenDesc       string
	serverTokenLibraries  []string
	serverTokenPermission string
	serverLibraryName     string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run and administer a libsync server",
	Long:  "Commands for running the libsync library server and managing its tokens and libraries.",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the libsync server",
	Long: `Start the libsync library server.

Libraries are stored in one SQLite database under the data directory.
Bearer token authentication is required for all library endpoints.

The admin token is read from the LIBSYNC_ADMIN_TOKEN environment variable and
enables the /admin/ endpoints for token and library management.

Examples:
  libsync server start
  libsync server start --listen 0.0.0.0:8720 --data-dir /var/lib/libsync
  libsync server start --tls-cert server.crt --tls-key server.key`,
	Run: runServerStart,
}

func init() {
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverTokensCmd)
	serverCmd.AddCommand(serverLibrariesCmd)

	f := serverStartCmd.Flags()
	f.StringVar(&serverListen, "listen", envOrDefault("LIBSYNC_LISTEN", "127.0.0.1:8720"), "Listen address (host:port)")
	f.StringVar(&serverDataDir, "data-dir", envOrDefault("LIBSYNC_DATA_DIR", defaultDataDir()), "Directory for library data")
	f.StringVar(&serverLogLevel, "log-level", envOrDefault("LIBSYNC_LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	f.StringVar(&serverLogFormat, "log-format", envOrDefault("LIBSYNC_LOG_FORMAT", "json"), "Log format (json|text)")
	f.StringVar(&serverTLSCert, "tls-cert", os.Getenv("LIBSYNC_TLS_CERT"), "TLS certificate file")
	f.StringVar(&serverTLSKey, "tls-key", os.Getenv("LIBSYNC_TLS_KEY"), "TLS key file")
	f.StringVar(&serverWebhookURLs, "webhook-urls", os.Getenv("LIBSYNC_WEBHOOK_URLS"), "Comma-separated webhook URLs to notify on library updates")

	// Shared admin connection flags, inherited by all subcommands.
	for _, cmd := range []*cobra.Command{serverTokensCmd, serverLibrariesCmd} {
		cmd.PersistentFlags().StringVar(&serverAdminURL, "url",
			envOrDefault("LIBSYNC_SERVER_URL", ""),
			"Server base URL (env: LIBSYNC_SERVER_URL)")
		cmd.PersistentFlags().StringVar(&serverAdminToken, "admin-token",
			os.Getenv("LIBSYNC_ADMIN_TOKEN"),
			"Admin token (env: LIBSYNC_ADMIN_TOKEN)")
	}

	serverTokensCmd.AddCommand(serverTokensCreateCmd, serverTokensListCmd, serverTokensDeleteCmd)
	serverLibrariesCmd.AddCommand(serverLibrariesCreateCmd, serverLibrariesListCmd, serverLibrariesDeleteCmd)

	tf := serverTokensCreateCmd.Flags()
	tf.StringVar(&serverTokenDesc, "desc", "", "Token description")
	tf.StringArrayVar(&serverTokenLibraries, "library", nil,
		"Library paths to grant access to, e.g. users/1, repeat for multiple (default: *)")
	tf.StringVar(&serverTokenPermission, "permission", "rw", "Permission level: ro or rw")

	serverLibrariesCreateCmd.Flags().StringVar(&serverLibraryName, "name", "", "Library name")
}

func runServerStart(_ *cobra.Command, _ []string) {
	logger, closer := logging.New(logging.Options{Level: serverLogLevel, Format: serverLogFormat, Output: os.Stdout})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := server.Serve(ctx, server.ServeOptions{
		Listen:      serverListen,
		DataDir:     serverDataDir,
		AdminToken:  os.Getenv("LIBSYNC_ADMIN_TOKEN"),
		TLSCert:     serverTLSCert,
		TLSKey:      serverTLSKey,
		WebhookURLs: serverWebhookURLs,
	}, logger)
	if err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// defaultDataDir returns the default server data directory (~/.libsync-server).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/libsync-server"
	}
	return filepath.Join(home, ".libsync-server")
}

// envOrDefault returns the value of the environment variable key, or defaultVal if unset.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// --- libsync server tokens ---

var serverTokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage server tokens",
	Long:  "Commands for managing authentication tokens on a running libsync server.",
}

var serverTokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new authentication token",
	Run:   runServerTokensCreate,
}

var serverTokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all authentication tokens",
	Run:   runServerTokensList,
}

var serverTokensDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an authentication token",
	Args:  cobra.ExactArgs(1),
	Run:   runServerTokensDelete,
}

// --- libsync server libraries ---

var serverLibrariesCmd = &cobra.Command{
	Use:   "libraries",
	Short: "Manage hosted libraries",
	Long:  "Commands for managing libraries on a running libsync server.",
}

var serverLibrariesCreateCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a library, e.g. users/1 or groups/5",
	Args:  cobra.ExactArgs(1),
	Run:   runServerLibrariesCreate,
}

var serverLibrariesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all libraries",
	Run:   runServerLibrariesList,
}

var serverLibrariesDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Delete a library and all its objects",
	Args:  cobra.ExactArgs(1),
	Run:   runServerLibrariesDelete,
}

// resolveAdminClient builds an AdminClient from the package-level admin flag vars.
func resolveAdminClient() *remote.AdminClient {
	if serverAdminURL == "" {
		exitError("--url or LIBSYNC_SERVER_URL is required")
	}
	if serverAdminToken == "" {
		exitError("--admin-token or LIBSYNC_ADMIN_TOKEN is required")
	}
	c := remote.NewAdminClient(serverAdminURL, serverAdminToken)
	if c.Insecure() {
		color.New(color.FgYellow).Fprintln(os.Stderr, "warning: sending credentials over unencrypted HTTP connection")
	}
	return c
}

func runServerTokensCreate(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()
	ctx := context.Background()

	libraries := serverTokenLibraries
	if len(libraries) == 0 {
		libraries = []string{"*"}
	}

	resp, err := c.CreateToken(ctx, serverTokenDesc, libraries, serverTokenPermission)
	if err != nil {
		exitError("%v", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println("Token created.")
	fmt.Printf("  ID:          %s\n", resp.ID)
	fmt.Printf("  Description: %s\n", resp.Description)
	fmt.Printf("  Libraries:   %s\n", strings.Join(resp.Libraries, ", "))
	fmt.Printf("  Permission:  %s\n", resp.Permission)
	fmt.Println()
	green.Printf("Token: %s\n", resp.Token)
	yellow.Println("Save this token, it will not be shown again.")
}

func runServerTokensList(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()

	tokens, err := c.ListTokens(context.Background())
	if err != nil {
		exitError("%v", err)
	}
	if len(tokens) == 0 {
		return
	}

	fmt.Printf("  %-32s  %-20s  %-16s  %s\n", "ID", "Description", "Libraries", "Permission")
	for _, t := range tokens {
		fmt.Printf("  %-32s  %-20s  %-16s  %s\n",
			t.ID,
			t.Description,
			strings.Join(t.Libraries, ","),
			t.Permission,
		)
	}
}

func runServerTokensDelete(_ *cobra.Command, args []string) {
	c := resolveAdminClient()

	if err := c.DeleteToken(context.Background(), args[0]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Deleted token '%s'\n", args[0])
}

func runServerLibrariesCreate(_ *cobra.Command, args []string) {
	c := resolveAdminClient()

	name := serverLibraryName
	if name == "" {
		name = args[0]
	}
	if err := c.CreateLibrary(context.Background(), args[0], name); err != nil {
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("Created library '%s'\n", args[0])
}

func runServerLibrariesList(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()

	libs, err := c.ListLibraries(context.Background())
	if err != nil {
		exitError("%v", err)
	}
	for _, l := range libs {
		fmt.Printf("  %-12s  %-24s  version %d\n", l.Library, l.Name, l.Version)
	}
}

func runServerLibrariesDelete(_ *cobra.Command, args []string) {
	c := resolveAdminClient()

	if err := c.DeleteLibrary(context.Background(), args[0]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Deleted library '%s'\n", args[0])
}
