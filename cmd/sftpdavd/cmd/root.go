package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/materials-commons/sftpdav/pkg/backend"
	"github.com/materials-commons/sftpdav/pkg/clog"
	"github.com/materials-commons/sftpdav/pkg/config"
	"github.com/materials-commons/sftpdav/pkg/davfs"
	"github.com/materials-commons/sftpdav/pkg/gateway"
	"github.com/materials-commons/sftpdav/pkg/pool"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sftpdavd",
	Short: "Serve a directory on an SFTP server over WebDAV",
	Long: `sftpdavd exposes a directory on a remote SSH/SFTP server as a WebDAV share.
Each WebDAV request runs on one of a fixed number of pooled SFTP sessions.

Settings come from flags, SFTPDAV_ environment variables and an optional
config file (default ~/.config/sftpdav/config.yaml).`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			log.Fatalf("sftpdavd: %s", err)
		}

		if err := Run(context.Background(), cfg); err != nil {
			log.Fatalf("sftpdavd: %s", err)
		}
	},
}

// Run serves WebDAV, and the admin API when configured, until ctx is
// cancelled or the process gets SIGINT or SIGTERM.
func Run(c context.Context, cfg *config.Config) error {
	return serve(c, cfg, backend.NewSFTPFactory())
}

func serve(c context.Context, cfg *config.Config, factory backend.Factory) error {
	if err := clog.SetLevelFromString(cfg.Logging.Level); err != nil {
		return err
	}

	if err := clog.SetOutputByName(cfg.Logging.Output); err != nil {
		return err
	}

	descriptor := cfg.SFTP.Descriptor()
	log.Infof("Connecting %d sessions to %s", descriptor.PoolSize, descriptor)

	sessionPool, err := pool.New(descriptor, factory)
	if err != nil {
		return err
	}
	defer func() {
		if err := sessionPool.Close(); err != nil {
			log.Errorf("Closing session pool failed: %s", err)
		}
	}()

	userTable, err := cfg.DAV.UserTable()
	if err != nil {
		return err
	}

	gw := gateway.New(gateway.Options{
		Sessions: sessionPool,
		RootPath: descriptor.RootPath,
		ReadOnly: cfg.DAV.ReadOnly,
	})

	davServer := &http.Server{
		Addr: cfg.DAV.Listen,
		Handler: davfs.NewHandler(gw, davfs.HandlerOptions{
			Prefix: cfg.DAV.Prefix,
			Users:  davfs.NewUsers(userTable),
		}),
		ReadHeaderTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	var e *echo.Echo
	if cfg.Admin.Listen != "" {
		e = echo.New()
		e.HideBanner = true
		e.HidePort = true

		setupRoutes(RouteDependencies{
			e:        e,
			pool:     sessionPool,
			readOnly: cfg.DAV.ReadOnly,
		})

		go func() {
			log.Infof("Admin API listening on http://%s/api", cfg.Admin.Listen)
			if err := e.Start(cfg.Admin.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	go func() {
		mode := "read-write"
		if cfg.DAV.ReadOnly {
			mode = "read-only"
		}
		log.Infof("WebDAV (%s) listening on http://%s%s/", mode, cfg.DAV.Listen, strings.TrimSuffix(cfg.DAV.Prefix, "/"))
		if err := davServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("webdav server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Infof("Shutting down...")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := davServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("WebDAV server shutdown failed: %s", err)
	}

	if e != nil {
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Admin server shutdown failed: %s", err)
		}
	}

	return serveErr
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.config/sftpdav/config.yaml)")

	flags.String("host", "", "SFTP server host")
	flags.String("host-alias", "", "Host entry in the ssh config to take host, port, user and key from")
	flags.String("ssh-config", "~/.ssh/config", "ssh client config used to resolve --host-alias")
	flags.IntP("port", "p", 22, "SFTP server port")
	flags.StringP("user", "u", "", "SSH user (default is $USER)")
	flags.StringP("key", "k", "", "SSH private key file")
	flags.String("known-hosts", "", "known_hosts file (default is ~/.ssh/known_hosts)")
	flags.Bool("insecure-ignore-host-key", false, "Accept any SSH host key")
	flags.StringP("root", "r", "", "Remote directory to serve")
	flags.Int("pool-size", 3, "Number of SFTP sessions to keep open")
	flags.Duration("connect-timeout", 10*time.Second, "Timeout for connecting to the SFTP server")
	flags.Duration("acquire-timeout", 5*time.Second, "How long a request waits for a free session")

	flags.StringP("listen", "l", "localhost:8080", "WebDAV listen address")
	flags.String("prefix", "", "URL path prefix for the WebDAV share, e.g. /dav")
	flags.Bool("read-only", false, "Reject all modifying WebDAV requests")
	flags.String("admin-listen", "localhost:8081", "Admin API listen address, empty to disable")

	flags.String("log-level", "info", "Log level (debug, info, warn, error, fatal)")
	flags.String("log-output", "stdout", "Log output: stdout, stderr or a file path")
}
