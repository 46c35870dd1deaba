// webhdfsfs mounts a directory of a remote HDFS cluster, reached over the
// WebHDFS REST API, as a local POSIX filesystem through FUSE.
//
// Usage:
//
//	webhdfsfs [flags] <mountpoint>
//	webhdfsfs init [--force] [--credentials]
//
// The mount runs in the foreground until SIGINT/SIGTERM or an external
// "fusermount -u". Buffered writes are delivered before the process exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/config"
	"github.com/marmos91/webhdfsfs/pkg/credential"
	"github.com/marmos91/webhdfsfs/pkg/journal"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/server"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "webhdfsfs: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "init" {
		return runInit(args[1:])
	}
	return runMount(args)
}

// mountFlags override configuration values when set on the command line.
type mountFlags struct {
	configPath  string
	root        string
	baseURL     string
	authType    string
	username    string
	caCert      string
	logLevel    string
	allowOther  bool
	debug       bool
	metricsPort int
}

func runMount(args []string) error {
	var f mountFlags

	flagSet := pflag.NewFlagSet("webhdfsfs", pflag.ContinueOnError)
	flagSet.StringVarP(&f.configPath, "config", "c", "", "path to the configuration file (default: $XDG_CONFIG_HOME/webhdfsfs/config.yaml)")
	flagSet.StringVar(&f.root, "root", "", "remote directory exposed at the mountpoint")
	flagSet.StringVar(&f.baseURL, "base-url", "", "WebHDFS REST endpoint, e.g. https://gateway:8443/gateway/default/webhdfs/v1")
	flagSet.StringVar(&f.authType, "auth", "", "authentication scheme: auto, basic, bearer, pseudo, none")
	flagSet.StringVarP(&f.username, "user", "u", "", "remote user name")
	flagSet.StringVar(&f.caCert, "ca-cert", "", "PEM bundle trusted in addition to the system roots")
	flagSet.StringVar(&f.logLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR")
	flagSet.BoolVar(&f.allowOther, "allow-other", false, "let other users access the mount (requires user_allow_other)")
	flagSet.BoolVarP(&f.debug, "debug", "d", false, "log every FUSE request")
	flagSet.IntVar(&f.metricsPort, "metrics-port", 0, "serve Prometheus metrics on this port")
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		printUsage(flagSet)
		return errors.New("exactly one mountpoint is required")
	}

	mountpoint, err := filepath.Abs(flagSet.Arg(0))
	if err != nil {
		return fmt.Errorf("mountpoint: %w", err)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	f.apply(flagSet, cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return mount(ctx, cfg, mountpoint)
}

// apply copies the flags given on the command line into cfg.
func (f *mountFlags) apply(flagSet *pflag.FlagSet, cfg *config.Config) {
	if flagSet.Changed("root") {
		cfg.WebHDFS.Root = f.root
	}
	if flagSet.Changed("base-url") {
		cfg.WebHDFS.BaseURL = f.baseURL
	}
	if flagSet.Changed("auth") {
		cfg.WebHDFS.AuthType = f.authType
	}
	if flagSet.Changed("user") {
		cfg.WebHDFS.Username = f.username
	}
	if flagSet.Changed("ca-cert") {
		cfg.WebHDFS.CACert = f.caCert
	}
	if flagSet.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if flagSet.Changed("allow-other") {
		cfg.Mount.AllowOther = f.allowOther
	}
	if flagSet.Changed("debug") {
		cfg.Mount.Debug = f.debug
	}
	if flagSet.Changed("metrics-port") {
		cfg.Server.Metrics.Enabled = f.metricsPort > 0
		cfg.Server.Metrics.Port = f.metricsPort
	}
}

// mount wires the components and serves until the filesystem is unmounted.
func mount(ctx context.Context, cfg *config.Config, mountpoint string) error {
	var prompter credential.Prompter
	if term.IsTerminal(int(os.Stdin.Fd())) {
		prompter = credential.NewTerminalPrompter()
	}

	creds, err := config.CreateCredentialSource(cfg, prompter)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	var client *webhdfs.Client
	root := metadata.RemotePath(cfg.WebHDFS.Root)
	probe := func(ctx context.Context) error {
		return client.Ping(ctx, root)
	}

	m := config.InitializeMetrics(cfg, probe)

	client, err = config.CreateClient(cfg, creds, m.WebHDFS)
	if err != nil {
		return fmt.Errorf("webhdfs client: %w", err)
	}

	j, err := config.CreateJournal(ctx, &cfg.Handles.Journal)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}

	srv, err := newServer(cfg, mountpoint, client, j, m, probe)
	if err != nil {
		if j != nil {
			_ = j.Close()
		}
		return err
	}

	logger.Info("Mounting %s on %s: %s", cfg.WebHDFS.Root, mountpoint, creds.Credential())

	return srv.Serve(ctx)
}

func newServer(
	cfg *config.Config,
	mountpoint string,
	client *webhdfs.Client,
	j journal.Journal,
	m *config.MetricsResult,
	probe func(ctx context.Context) error,
) (*server.MountServer, error) {
	handles := config.CreateHandleManager(&cfg.Handles, client, j, m.Handles)

	b, err := config.CreateBridge(cfg, config.BridgeComponents{
		Mountpoint: mountpoint,
		Transport:  client,
		Cache:      config.CreateCache(&cfg.Cache, m.Cache),
		Handles:    handles,
		Metrics:    m.Bridge,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	a, err := config.CreateAdapter(cfg, mountpoint, b)
	if err != nil {
		return nil, fmt.Errorf("adapter: %w", err)
	}

	return server.New(server.Options{
		Bridge:          b,
		Adapter:         a,
		Probe:           probe,
		Journal:         j,
		Metrics:         m.Server,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
}

func runInit(args []string) error {
	var configPath string
	var force, withCredentials bool

	flagSet := pflag.NewFlagSet("webhdfsfs init", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "where to write the configuration file")
	flagSet.BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	flagSet.BoolVar(&withCredentials, "credentials", false, "also prompt for credentials and write "+credential.DefaultIniPath())
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if configPath == "" {
		path, err := config.InitConfig(force)
		if err != nil {
			return err
		}
		configPath = path
	} else if err := config.InitConfigToPath(configPath, force); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", configPath)

	if !withCredentials {
		return nil
	}
	return initCredentials(credential.NewTerminalPrompter(), credential.DefaultIniPath())
}

// initCredentials asks for the endpoint and a user/password pair and stores
// them in the credential file.
func initCredentials(p credential.Prompter, path string) error {
	baseURL, err := p.Prompt("WebHDFS base URL: ", false)
	if err != nil {
		return err
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid base URL %q", baseURL)
	}
	username, err := p.Prompt("Username: ", false)
	if err != nil {
		return err
	}
	password, err := p.Prompt("Password: ", true)
	if err != nil {
		return err
	}

	values := map[string]string{
		credential.KeyHost:     u.Hostname(),
		credential.KeyBaseURL:  baseURL,
		credential.KeyUsername: username,
		credential.KeyPassword: password,
	}
	if err := credential.SaveIni(path, values); err != nil {
		return err
	}
	fmt.Printf("Credentials written to %s\n", path)
	return nil
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `webhdfsfs mounts a remote HDFS directory over WebHDFS.

Usage:
  webhdfsfs [flags] <mountpoint>
  webhdfsfs init [--force] [--credentials]

Flags:
%s`, flagSet.FlagUsages())
}
