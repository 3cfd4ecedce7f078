// Package cli wires the jads commands: serve, init, config and user
// management.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ademmoe/jads/internal/auth"
	"github.com/ademmoe/jads/internal/config"
	"github.com/ademmoe/jads/internal/db"
	"github.com/ademmoe/jads/internal/server"
	"github.com/ademmoe/jads/internal/util"
)

type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

type rootState struct {
	configPath string
	dataDir    string
}

type serveFlags struct {
	port     int
	bind     string
	logLevel string
	storage  string
}

func NewRootCmd(v VersionInfo) *cobra.Command {
	state := &rootState{}
	serve := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "jads",
		Short: "Self-hosted file drop with short links, roles and expiring uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, state, serve, v)
		},
	}
	cmd.PersistentFlags().StringVar(&state.configPath, "config", "", "config path (default: platform user config)")
	cmd.PersistentFlags().StringVar(&state.dataDir, "data-dir", "", "data directory for SQLite and uploads")
	addServeFlags(cmd, serve)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the file drop server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, state, serve, v)
		},
	}
	addServeFlags(serveCmd, serve)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive first-run setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(state)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print config location and effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, cfg, err := loadConfig(state)
			if err != nil {
				return err
			}
			fmt.Printf("Config path: %s\n", cfgPath)
			fmt.Printf("Data dir: %s\n", cfg.DataDir)
			if err := config.Validate(cfg); err != nil {
				fmt.Printf("Validation: failed (%v)\n", err)
			} else {
				fmt.Println("Validation: ok")
			}
			b, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Println(string(b))
			return nil
		},
	}

	userCmd := buildUserCommands(state)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("jads %s\ncommit: %s\nbuilt: %s\n", v.Version, v.Commit, v.Date)
		},
	}

	cmd.AddCommand(serveCmd, initCmd, configCmd, userCmd, versionCmd)
	return cmd
}

func addServeFlags(cmd *cobra.Command, f *serveFlags) {
	cmd.Flags().IntVar(&f.port, "port", 0, "server port")
	cmd.Flags().StringVar(&f.bind, "bind", "", "bind address (default from config, typically 0.0.0.0)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug|info|warn|error")
	cmd.Flags().StringVar(&f.storage, "storage", "", "blob backend: disk|minio")
}

func loadConfig(state *rootState) (string, config.Config, error) {
	cfgPath := strings.TrimSpace(state.configPath)
	if cfgPath == "" {
		p, err := config.ConfigPathFromEnv()
		if err != nil {
			return "", config.Config{}, err
		}
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath, state.dataDir)
	if err != nil {
		return "", config.Config{}, err
	}
	return cfgPath, cfg, nil
}

func mergeServeFlags(cmd *cobra.Command, cfg config.Config, f *serveFlags) config.Config {
	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("bind") {
		cfg.Bind = f.bind
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(f.logLevel))
	}
	if cmd.Flags().Changed("storage") {
		cfg.Storage = strings.ToLower(strings.TrimSpace(f.storage))
	}
	return cfg
}

func runServe(cmd *cobra.Command, state *rootState, flags *serveFlags, v VersionInfo) error {
	cfgPath, cfg, err := loadConfig(state)
	if err != nil {
		return err
	}
	cfg = mergeServeFlags(cmd, cfg, flags)
	if err := config.Validate(cfg); err != nil {
		return err
	}
	sweep, err := cfg.ParsedSweepInterval()
	if err != nil {
		return err
	}

	opts := server.Options{
		Bind:          cfg.Bind,
		Port:          cfg.Port,
		LogLevel:      cfg.LogLevel,
		DataDir:       cfg.DataDir,
		Version:       v.Version,
		Storage:       cfg.Storage,
		Minio:         cfg.Minio,
		SweepInterval: sweep,
		SessionTTL:    cfg.SessionTTL(),
	}

	urls := util.DiscoverURLs(opts.Bind, opts.Port)
	fmt.Printf("Config:  %s\n", cfgPath)
	fmt.Printf("Data:    %s\n", cfg.DataDir)
	fmt.Printf("Storage: %s\n", cfg.Storage)
	fmt.Println("URLs:")
	for _, u := range urls {
		fmt.Printf("  - %s\n", u)
	}
	if len(urls) > 0 {
		fmt.Println("QR (scan from phone on same LAN):")
		util.PrintTerminalQR(urls[0] + "dashboard")
	}
	fmt.Println("Press Ctrl+C to stop.")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return server.Run(ctx, opts)
}

// runInit writes the config and, when the instance is still pristine,
// performs the same bootstrap the web /setup flow does.
func runInit(state *rootState) error {
	cfgPath := strings.TrimSpace(state.configPath)
	if cfgPath == "" {
		p, err := config.ConfigPathFromEnv()
		if err != nil {
			return err
		}
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath, state.dataDir)
	if err != nil {
		return err
	}

	r := bufio.NewReader(os.Stdin)
	fmt.Println("jads first-run setup")
	cfg.DataDir = askWithDefault(r, "Data directory", cfg.DataDir)
	cfg.Bind = askWithDefault(r, "Bind address", cfg.Bind)
	cfg.Port = askIntWithDefault(r, "Port", cfg.Port)
	cfg.Storage = strings.ToLower(askWithDefault(r, "Storage backend (disk/minio)", cfg.Storage))
	if cfg.Storage == config.StorageMinio {
		cfg.Minio.Endpoint = askWithDefault(r, "MinIO endpoint", cfg.Minio.Endpoint)
		cfg.Minio.AccessKey = askWithDefault(r, "MinIO access key", cfg.Minio.AccessKey)
		cfg.Minio.SecretKey = askWithDefault(r, "MinIO secret key", cfg.Minio.SecretKey)
		cfg.Minio.Bucket = askWithDefault(r, "MinIO bucket", cfg.Minio.Bucket)
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}

	store, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	if store.IsSetup() {
		fmt.Printf("Config saved to %s\n", cfgPath)
		fmt.Println("Instance is already set up; run `jads` to start serving.")
		return nil
	}

	baseDomain := strings.TrimRight(askWithDefault(r, "Base domain for share links", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")
	username := strings.TrimSpace(askWithDefault(r, "Admin username", "admin"))
	if username == "" {
		username = "admin"
	}
	password, err := promptPasswordTwice("Admin password")
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := store.Bootstrap(baseDomain, username, hash); err != nil {
		return err
	}
	fmt.Printf("Created admin user %q\n", username)
	fmt.Printf("Config saved to %s\n", cfgPath)
	fmt.Println("Run `jads` to start serving.")
	return nil
}

func askWithDefault(r *bufio.Reader, label, def string) string {
	fmt.Printf("%s [%s]: ", label, def)
	text, _ := r.ReadString('\n')
	text = strings.TrimSpace(text)
	if text == "" {
		return def
	}
	return text
}

func askIntWithDefault(r *bufio.Reader, label string, def int) int {
	for {
		value := askWithDefault(r, label, strconv.Itoa(def))
		n, err := strconv.Atoi(value)
		if err == nil && n > 0 {
			return n
		}
		fmt.Println("Please enter a positive integer.")
	}
}

func promptPassword(prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		return string(b), err
	}
	reader := bufio.NewReader(os.Stdin)
	text, err := reader.ReadString('\n')
	return strings.TrimSpace(text), err
}

func promptPasswordTwice(label string) (string, error) {
	first, err := promptPassword(label)
	if err != nil {
		return "", err
	}
	second, err := promptPassword(label + " (confirm)")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("password cannot be empty")
	}
	return first, nil
}

func buildUserCommands(state *rootState) *cobra.Command {
	userCmd := &cobra.Command{Use: "user", Short: "User management"}
	role := string(auth.RoleUser)

	openStore := func() (*db.Store, error) {
		_, cfg, err := loadConfig(state)
		if err != nil {
			return nil, err
		}
		return db.Open(cfg.DataDir)
	}

	addCmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			r := auth.Role(strings.TrimSpace(role))
			if !auth.ValidRole(r) {
				return fmt.Errorf("role must be Admin, Manager or User")
			}
			pass, err := promptPasswordTwice("Password")
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(pass)
			if err != nil {
				return err
			}
			username := strings.TrimSpace(args[0])
			id, err := store.CreateUser(username, hash, string(r))
			if err != nil {
				return err
			}
			fmt.Printf("created user %s (id=%d role=%s)\n", username, id, r)
			return nil
		},
	}
	addCmd.Flags().StringVar(&role, "role", string(auth.RoleUser), "role: Admin|Manager|User")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			users, err := store.ListUsers()
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Printf("%d\t%s\t%s\n", u.ID, u.Username, u.Role)
			}
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <username>",
		Short: "Remove a user (their files stay, detached)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			u, err := store.GetUserByUsername(args[0])
			if err != nil {
				return fmt.Errorf("no such user %q", args[0])
			}
			return store.DeleteUser(u.ID)
		},
	}

	passwdCmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Set a user password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			u, err := store.GetUserByUsername(args[0])
			if err != nil {
				return fmt.Errorf("no such user %q", args[0])
			}
			pass, err := promptPasswordTwice("New password")
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(pass)
			if err != nil {
				return err
			}
			return store.SetUserPassword(u.ID, hash)
		},
	}

	userCmd.AddCommand(addCmd, listCmd, removeCmd, passwdCmd)
	return userCmd
}
