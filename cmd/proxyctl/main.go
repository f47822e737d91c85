package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/easycli/proxyctl/internal/version"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	AppDir     string
	ConfigPath string
	LogFile    string
	LogLevel   string
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	Addr  string
	Token string
}

// CallbackFlags holds flags for the callback subcommands.
type CallbackFlags struct {
	Port     int
	Provider string
	Mode     string
	BaseURL  string
}

// KeepAliveFlags holds flags for the keepalive command.
type KeepAliveFlags struct {
	Port       int
	Credential string
}

// UpdateFlags holds flags for the update command.
type UpdateFlags struct {
	Install bool
	Proxy   string
}

// buildRoot creates the root command and wires all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}
	callbackFlags := &CallbackFlags{}
	keepAliveFlags := &KeepAliveFlags{}
	updateFlags := &UpdateFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createStartCommand(globalFlags),
		createRestartCommand(globalFlags),
		createStatusCommand(globalFlags),
		createCallbackCommand(globalFlags, callbackFlags),
		createKeepAliveCommand(globalFlags, keepAliveFlags),
		createAutostartCommand(globalFlags),
		createUpdateCommand(globalFlags, updateFlags),
		createVersionCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "proxyctl",
		Short: "Lifecycle agent for the local API proxy server",
		Long: `Proxyctl launches, restarts, and watches the local API proxy server,
relays OAuth callbacks to it, and keeps it warm with periodic probes.

Examples:
  proxyctl start                     # Launch the managed server
  proxyctl restart                   # Rotate credential and relaunch
  proxyctl serve --addr=:8316        # Run the control API daemon
  proxyctl update --install          # Install the latest server release`,
	}

	root.PersistentFlags().StringVar(&flags.AppDir, "app-dir", "", "application directory (default ~/cliproxyapi)")
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "managed server config path (default <app-dir>/config.yaml)")
	root.PersistentFlags().StringVar(&flags.LogFile, "log-file", "", "log to this file instead of stderr")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	return root
}

// resolveDirs fills in the app dir and config path defaults.
func resolveDirs(flags *GlobalFlags) (appDir, configPath string, err error) {
	appDir = flags.AppDir
	if appDir == "" {
		appDir, err = version.DefaultAppDir()
		if err != nil {
			return "", "", fmt.Errorf("resolve app dir: %w", err)
		}
	}
	configPath = flags.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(appDir, "config.yaml")
	}
	return appDir, configPath, nil
}

func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control API daemon",
		Long: `Run the agent as a daemon exposing the control API. The managed server,
callback relays, and keep-alive monitor are all driven through this API.

Examples:
  proxyctl serve
  proxyctl serve --addr=127.0.0.1:8316 --token=s3cret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			return app.Serve(serveFlags.Addr, serveFlags.Token)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Addr, "addr", "127.0.0.1:8316", "control API listen address")
	cmd.Flags().StringVar(&serveFlags.Token, "token", "", "control API bearer token (empty disables auth)")
	return cmd
}

func createStartCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Launch the managed server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			return app.Start()
		},
	}
}

func createRestartCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the managed server with a fresh credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			return app.Restart()
		},
	}
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show managed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			return app.Status()
		},
	}
}

func createCallbackCommand(globalFlags *GlobalFlags, callbackFlags *CallbackFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callback",
		Short: "Run an OAuth callback relay",
		Long: `Bind a loopback listener that relays an OAuth provider's browser redirect
to the managed server's callback endpoint. The command blocks until
interrupted; the listener is torn down on exit.

Examples:
  proxyctl callback --port=8085 --provider=google
  proxyctl callback --port=8085 --provider=codex --mode=remote --base-url=https://example.com/api/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			return app.Callback(callbackFlags.Port, callbackFlags.Provider, callbackFlags.Mode, callbackFlags.BaseURL)
		},
	}
	cmd.Flags().IntVar(&callbackFlags.Port, "port", 0, "loopback port to listen on (required)")
	cmd.Flags().StringVar(&callbackFlags.Provider, "provider", "", "oauth provider (anthropic|codex|google|iflow)")
	cmd.Flags().StringVar(&callbackFlags.Mode, "mode", "local", "redirect target mode (local|remote)")
	cmd.Flags().StringVar(&callbackFlags.BaseURL, "base-url", "", "remote mode target base URL")
	if err := cmd.MarkFlagRequired("port"); err != nil {
		panic(err)
	}
	return cmd
}

func createKeepAliveCommand(globalFlags *GlobalFlags, keepAliveFlags *KeepAliveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keepalive",
		Short: "Run the keep-alive probe loop in the foreground",
		Long: `Ping the managed server's /keep-alive endpoint with the given credential
until interrupted. Useful when the server was started by another agent
instance and only the warm-keeping is wanted here.

Examples:
  proxyctl keepalive --credential=abc123
  proxyctl keepalive --port=8317 --credential=abc123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			return app.KeepAlive(keepAliveFlags.Port, keepAliveFlags.Credential)
		},
	}
	cmd.Flags().IntVar(&keepAliveFlags.Port, "port", 0, "managed server port (default from config)")
	cmd.Flags().StringVar(&keepAliveFlags.Credential, "credential", "", "bearer credential (required)")
	if err := cmd.MarkFlagRequired("credential"); err != nil {
		panic(err)
	}
	return cmd
}

func createAutostartCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart [on|off|status]",
		Short: "Manage login-time autostart of the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(globalFlags)
			if err != nil {
				return err
			}
			return app.Autostart(args[0])
		},
	}
	return cmd
}

func createUpdateCommand(globalFlags *GlobalFlags, updateFlags *UpdateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for or install the latest managed server release",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppWithProxy(globalFlags, updateFlags.Proxy)
			if err != nil {
				return err
			}
			return app.Update(updateFlags.Install)
		},
	}
	cmd.Flags().BoolVar(&updateFlags.Install, "install", false, "download and install instead of check only")
	cmd.Flags().StringVar(&updateFlags.Proxy, "proxy", "", "HTTP proxy URL for the download")
	return cmd
}

func createVersionCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the installed managed server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			appDir, _, err := resolveDirs(globalFlags)
			if err != nil {
				return err
			}
			inst, err := version.Current(appDir)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s (%s)\n", version.ExecutableName, inst.Version, inst.Dir)
			return nil
		},
	}
}
