package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/fx"

	"github.com/voyago/authkit/internal/api"
	"github.com/voyago/authkit/internal/bus"
	"github.com/voyago/authkit/internal/config"
	"github.com/voyago/authkit/internal/credentials"
	"github.com/voyago/authkit/internal/logger"
	"github.com/voyago/authkit/internal/refresh"
	"github.com/voyago/authkit/internal/relay"
	"github.com/voyago/authkit/internal/session"
	"github.com/voyago/authkit/internal/storage"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			pterm.Error.Printf("\nCaught panic: %v\n", r)
			pterm.Error.Printf("%s\n", debug.Stack())
			os.Exit(2)
		}
	}()
	Execute()
}

// deps holds everything the commands pull out of the fx graph.
type deps struct {
	manager *session.Manager
	relay   *relay.Relay
	client  *api.Client
}

func buildApp(cfg *config.Config, target *deps) *fx.App {
	return fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		storage.Module,
		credentials.Module,
		bus.Module,
		api.Module,
		refresh.Module,
		relay.Module,
		session.Module,
		fx.Populate(&target.manager, &target.relay, &target.client),
	)
}

// withApp starts the dependency graph, restores the session and runs fn.
func withApp(fn func(ctx context.Context, d *deps) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.InitLogger(&cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var d deps
	app := buildApp(cfg, &d)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	runCtx := context.Background()
	d.manager.Initialize(runCtx)
	defer d.manager.Close()

	return fn(runCtx, &d)
}

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "Manage the local authentication session",
	Long: `authctl owns the device's login state: it signs in against the
backend, keeps the stored token pair fresh and completes web-based
Google sign-in through the system browser.`,
	SilenceUsage: true,
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in with email and password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, d *deps) error {
			password, err := pterm.DefaultInteractiveTextInput.
				WithMask("*").
				Show("Password")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			user, err := d.client.Login(ctx, api.LoginRequest{
				Email:    args[0],
				Password: password,
			})
			if err != nil {
				return err
			}
			if err := d.manager.Login(ctx, user); err != nil {
				return err
			}
			pterm.Success.Printfln("Signed in as %s %s <%s>", user.FirstName, user.LastName, user.Email)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, d *deps) error {
			d.manager.Logout(ctx)
			pterm.Success.Println("Signed out")
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, d *deps) error {
			if !d.manager.IsAuthenticated() {
				pterm.Info.Println("Not signed in")
				return nil
			}
			user := d.manager.Current()
			pterm.Info.Printfln("Signed in as %s %s <%s> via %s",
				user.FirstName, user.LastName, user.Email, user.Provider)
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token for a new pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, d *deps) error {
			if err := d.manager.RefreshSession(ctx); err != nil {
				return fmt.Errorf("session could not be refreshed and was signed out: %w", err)
			}
			pterm.Success.Println("Tokens refreshed")
			return nil
		})
	},
}

var googleTimeout time.Duration

var googleCmd = &cobra.Command{
	Use:   "google",
	Short: "Sign in with Google through the browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, d *deps) error {
			// A platform-native Google module, when one is registered,
			// short-circuits the browser round trip entirely.
			if user, ok, err := d.manager.TryNativeGoogleSignIn(ctx); ok {
				if err != nil {
					return err
				}
				pterm.Success.Printfln("Signed in as %s <%s>", user.FirstName, user.Email)
				return nil
			}

			if err := d.relay.Initiate(ctx); err != nil {
				return err
			}
			pterm.Info.Println("Complete the sign-in in your browser...")

			waitCtx, cancel := context.WithTimeout(ctx, googleTimeout)
			defer cancel()

			pendingCh := make(chan struct{}, 1)
			if err := d.relay.OnPending(waitCtx, func() {
				select {
				case pendingCh <- struct{}{}:
				default:
				}
			}); err != nil {
				return err
			}

			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()

			for {
				result, err := d.relay.Complete(waitCtx)
				if errors.Is(err, relay.ErrCancelled) {
					pterm.Info.Println("Sign-in cancelled")
					return nil
				}
				if err != nil {
					return err
				}
				if result != nil {
					user, err := d.manager.LoginWithGoogle(ctx, result.IDToken)
					if err != nil {
						return err
					}
					pterm.Success.Printfln("Signed in as %s <%s>", user.FirstName, user.Email)
					return nil
				}

				select {
				case <-waitCtx.Done():
					return fmt.Errorf("timed out waiting for the browser sign-in")
				case <-pendingCh:
				case <-ticker.C:
				}
			}
		})
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.InitFlags()
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")
	googleCmd.Flags().DurationVar(&googleTimeout, "timeout", 3*time.Minute, "How long to wait for the browser sign-in")

	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd, refreshCmd, googleCmd)
}
