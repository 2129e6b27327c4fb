package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/filegate/filegate/internal/adminapi"
	"github.com/filegate/filegate/internal/authz"
	"github.com/filegate/filegate/internal/config"
	"github.com/filegate/filegate/internal/ftpd"
	"github.com/filegate/filegate/internal/listener"
	"github.com/filegate/filegate/internal/logging"
	"github.com/filegate/filegate/internal/session"
	"github.com/filegate/filegate/internal/sftpd"
	"github.com/filegate/filegate/internal/store"
)

type options struct {
	ConfigDir string `long:"config-dir" env:"CONFIG_DIR" default:"config" description:"directory holding the embedded database"`
	DataDir   string `long:"data-dir" env:"DATA_DIR" default:"data/ftp-root" description:"default virtual path target for new installs"`
	LogsDir   string `long:"logs-dir" env:"LOGS_DIR" default:"logs" description:"directory for operational logs"`

	IdleTimeout       time.Duration `long:"idle-timeout" env:"IDLE_TIMEOUT" default:"300s" description:"force-close a session idle for this long"`
	ActivityRetention time.Duration `long:"activity-retention" env:"ACTIVITY_RETENTION" description:"purge activity rows older than this (0 = unlimited)"`
	ShutdownDeadline  time.Duration `long:"shutdown-deadline" env:"SHUTDOWN_DEADLINE" default:"5s" description:"how long a listener waits for sessions to close gracefully"`

	Admin struct {
		Listen string `long:"listen" env:"LISTEN" description:"bind address for the admin JSON API (empty disables it)"`
		Token  string `long:"token" env:"TOKEN" description:"bearer token required on every admin API request"`
	} `group:"Admin options" namespace:"admin" env-namespace:"ADMIN"`

	Version bool `short:"v" long:"version" description:"show version and exit"`
	Dbg     bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var opts options

func main() {
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		if !errors.Is(err.(*flags.Error).Type, flags.ErrHelp) {
			fmt.Printf("%v", err)
		}
		os.Exit(1)
	}
	logging.Setup(opts.Dbg, opts.Admin.Token)

	if opts.Version {
		fmt.Printf("version: %s\n", versionInfo())
		os.Exit(0)
	}

	defer func() {
		if x := recover(); x != nil {
			lgr.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := run(ctx, &opts); err != nil {
		lgr.Printf("[FATAL] run error: %v", err)
		os.Exit(1)
	}
}

// run wires every internal package into one running process: the store,
// the authorizer, one protocol server per listener row registered with
// a Supervisor, and the optional admin API, then blocks until ctx is
// cancelled and shuts everything down within cfg.ShutdownDeadline.
func run(ctx context.Context, opts *options) error {
	cfg := config.Defaults()
	cfg.ConfigDir = opts.ConfigDir
	cfg.DataDir = opts.DataDir
	cfg.LogsDir = opts.LogsDir
	cfg.IdleTimeout = opts.IdleTimeout
	cfg.ActivityRetention = opts.ActivityRetention
	cfg.ShutdownDeadline = opts.ShutdownDeadline
	cfg.AdminListen = opts.Admin.Listen
	cfg.AdminToken = opts.Admin.Token

	for _, dir := range []string{cfg.ConfigDir, cfg.DataDir, cfg.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	st, err := store.Open(filepath.Join(cfg.ConfigDir, "filegate.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Bootstrap(cfg.DataDir); err != nil {
		return fmt.Errorf("bootstrap store: %w", err)
	}
	st.WarnIfDefaultCredentialActive()

	if cfg.ActivityRetention > 0 {
		go runActivityPurge(ctx, st, cfg.ActivityRetention)
	}

	az := authz.New(st)

	rows, err := st.ListListeners()
	if err != nil {
		return fmt.Errorf("list listeners: %w", err)
	}

	sup := listener.NewSupervisor(cfg.ShutdownDeadline)
	for _, row := range rows {
		srv, err := protocolServerFor(st, az, row, cfg)
		if err != nil {
			return err
		}
		sup.Register(listener.New(row, srv))
	}
	sup.StartAllEnabled()
	defer sup.StopAll()

	admin := adminapi.New(st, az, sup, cfg.AdminListen, cfg.AdminToken, versionInfo())

	errCh := make(chan error, 1)
	go func() {
		if err := admin.Run(ctx); err != nil {
			errCh <- fmt.Errorf("admin API failed: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// protocolServer is the shape internal/listener.New expects; declared
// locally so protocolServerFor can return either concrete server type.
type protocolServer interface {
	Run(ctx context.Context) error
	Shutdown(ctx context.Context) error
	ActiveSessions() []session.Info
	DisconnectSession(id string) bool
}

// protocolServerFor builds the protocol server backing one listener row,
// per spec §4.3's per-listener SSH host key.
func protocolServerFor(st *store.Store, az *authz.Authorizer, row store.Listener, cfg config.Config) (protocolServer, error) {
	switch row.Protocol {
	case store.ProtocolSFTP:
		keyPath := sftpd.HostKeyPathFor(cfg.ConfigDir, row.ID)
		return sftpd.New(st, az, row, keyPath, cfg.IdleTimeout), nil
	case store.ProtocolFTP:
		return ftpd.New(st, az, row, cfg.IdleTimeout), nil
	default:
		return nil, fmt.Errorf("unknown listener protocol %q for listener %q", row.Protocol, row.Name)
	}
}

// runActivityPurge periodically deletes activity rows older than
// retention until ctx is cancelled.
func runActivityPurge(ctx context.Context, st *store.Store, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.PurgeActivitiesOlderThan(time.Now().Add(-retention))
			if err != nil {
				lgr.Printf("[WARN] activity purge failed: %v", err)
				continue
			}
			if n > 0 {
				lgr.Printf("[INFO] purged %d activity rows older than %s", n, retention)
			}
		}
	}
}

// versionInfo reports the module version embedded by Go's build info.
func versionInfo() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		version := info.Main.Version
		if version == "" {
			version = "dev"
		}
		return version
	}
	return "unknown"
}
