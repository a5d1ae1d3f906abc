// Package main provides the CLI entry point for Excalibur Server.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/photonicgluon/excalibur-server/internal/config"
	"github.com/photonicgluon/excalibur-server/internal/crypto"
	"github.com/photonicgluon/excalibur-server/internal/filestore"
	"github.com/photonicgluon/excalibur-server/internal/logging"
	"github.com/photonicgluon/excalibur-server/internal/server"
	"github.com/photonicgluon/excalibur-server/internal/session"
	"github.com/photonicgluon/excalibur-server/internal/srp"
	"github.com/photonicgluon/excalibur-server/internal/userstore"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "excalibur-server",
		Short: "Excalibur Server - end-to-end encrypted personal vault backend",
		Long: `Excalibur Server authenticates clients with augmented SRP (RFC 5054)
and exchanges every request and response body through an AES-GCM
container format, so the server itself never sees vault contents or
the password that protects them.`,
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "start", Title: "Getting Started:"})
	rootCmd.AddGroup(&cobra.Group{ID: "admin", Title: "Administration:"})

	serve := serveCmd()
	serve.GroupID = "start"
	rootCmd.AddCommand(serve)

	genKey := genKeyCmd()
	genKey.GroupID = "admin"
	rootCmd.AddCommand(genKey)

	hash := hashCmd()
	hash.GroupID = "admin"
	rootCmd.AddCommand(hash)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the vault server",
		Long:  "Start the Excalibur Server HTTP and WebSocket surface with the specified configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Agent.LogLevel, cfg.Agent.LogFormat)

			group, err := srp.ByName(cfg.SRP.Group)
			if err != nil {
				return fmt.Errorf("invalid srp group: %w", err)
			}

			serverSecret, err := cfg.ResolveServerSecret()
			if err != nil {
				return fmt.Errorf("failed to resolve server secret: %w", err)
			}

			users := userstore.New()
			files := filestore.New(serverSecret)

			deps := server.Deps{
				Config:       cfg,
				Logger:       logger,
				Group:        group,
				ServerSecret: serverSecret,
				Sessions:     session.NewCache(cfg.E2EE.CommCacheSize, cfg.SessionDuration),
				Nonces:       session.NewNonceCache(cfg.PoP.NonceCacheSize, cfg.PoP.TimestampValidity),
				Users:        users,
				Files:        files,
			}

			if cfg.HasManagementKey() {
				pub, err := cfg.GetManagementPublicKey()
				if err != nil {
					return fmt.Errorf("failed to load management public key: %w", err)
				}
				if cfg.CanDecryptManagement() {
					priv, err := cfg.GetManagementPrivateKey()
					if err != nil {
						return fmt.Errorf("failed to load management private key: %w", err)
					}
					deps.ManagementBox = crypto.NewSealedBoxWithPrivate(pub, priv)
				} else {
					deps.ManagementBox = crypto.NewSealedBox(pub)
				}
			}

			srv := server.New(deps).HTTPServer()

			fmt.Printf("Starting Excalibur Server...\n")
			fmt.Printf("Listening on %s (SRP group: %s)\n", cfg.Server.Address, cfg.SRP.Group)
			fmt.Printf("Vault folder: %s\n", cfg.VaultFolder)
			fmt.Printf("Session cache: %s entries, PoP nonce cache: %s entries\n",
				humanize.Comma(int64(cfg.E2EE.CommCacheSize)), humanize.Comma(int64(cfg.PoP.NonceCacheSize)))

			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			case sig := <-sigCh:
				fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
				return err
			}

			fmt.Println("Server stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")

	return cmd
}

func genKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a management keypair",
		Long: `Generate a new X25519 keypair for the account-creation-key envelope
that /api/users/add expects (spec.md §6).

The generated keys should be distributed as follows:
  - Public key: give to whoever seals new-account envelopes, and
    configure on the server
  - Private key: configure on the server that serves /api/users/add,
    which opens the envelopes with it; keep it secret

Example output can be copied directly into your config.yaml:

  management:
    public_key: "<public key hex>"
    private_key: "<private key hex>"  # Keep secret!`,
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, pub, err := crypto.GenerateEphemeralKeypair()
			if err != nil {
				return fmt.Errorf("failed to generate keypair: %w", err)
			}

			pubKeyHex := hex.EncodeToString(pub[:])
			privKeyHex := hex.EncodeToString(priv[:])

			fmt.Println("=== Management Keypair Generated ===")
			fmt.Println()
			fmt.Println("Public Key:")
			fmt.Printf("  %s\n", pubKeyHex)
			fmt.Println()
			fmt.Println("Private Key (KEEP SECRET):")
			fmt.Printf("  %s\n", privKeyHex)
			fmt.Println()
			fmt.Println("Config snippet:")
			fmt.Println("  management:")
			fmt.Printf("    public_key: \"%s\"\n", pubKeyHex)
			fmt.Printf("    private_key: \"%s\"\n", privKeyHex)

			return nil
		},
	}

	return cmd
}

func hashCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash [password]",
		Short: "Generate a bcrypt hash for an administrative password",
		Long: `Generate a bcrypt hash for use wherever this deployment gates an
administrative action (e.g. an operator console in front of
/api/users/add) behind a password, separate from the per-account SRP
verifier the vault itself never receives in plaintext.

If no password is provided as an argument, you will be prompted to
enter it interactively (recommended for security).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string

			if len(args) > 0 {
				password = args[0]
			} else {
				fmt.Print("Enter password: ")
				pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Println()
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}

				fmt.Print("Confirm password: ")
				confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Println()
				if err != nil {
					return fmt.Errorf("failed to read confirmation: %w", err)
				}

				if string(pwBytes) != string(confirmBytes) {
					return fmt.Errorf("passwords do not match")
				}

				password = string(pwBytes)
			}

			if password == "" {
				return fmt.Errorf("password cannot be empty")
			}

			if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
				return fmt.Errorf("cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return fmt.Errorf("failed to generate hash: %w", err)
			}

			fmt.Println(string(hash))
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost factor (4-31, higher = slower but more secure)")

	return cmd
}
