package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/easycli/proxyctl/internal/adapter"
	"github.com/easycli/proxyctl/internal/authfiles"
	"github.com/easycli/proxyctl/internal/config"
	"github.com/easycli/proxyctl/internal/events"
	"github.com/easycli/proxyctl/internal/history"
	"github.com/easycli/proxyctl/internal/keepalive"
	"github.com/easycli/proxyctl/internal/launcher"
	"github.com/easycli/proxyctl/internal/logger"
	"github.com/easycli/proxyctl/internal/metrics"
	"github.com/easycli/proxyctl/internal/reclaim"
	"github.com/easycli/proxyctl/internal/relay"
	"github.com/easycli/proxyctl/internal/server"
	"github.com/easycli/proxyctl/internal/supervisor"
	"github.com/easycli/proxyctl/internal/updater"
	"github.com/prometheus/client_golang/prometheus"
)

// app bundles the wired components every command operates on.
type app struct {
	appDir    string
	cfg       *config.Manager
	os        adapter.OSAdapter
	sup       *supervisor.Supervisor
	relay     *relay.Registry
	keepAlive *keepalive.Monitor
	updater   *updater.Updater
	auth      *authfiles.Store
	hist      *history.Store
}

func newApp(flags *GlobalFlags) (*app, error) {
	return newAppWithProxy(flags, "")
}

func newAppWithProxy(flags *GlobalFlags, proxyURL string) (*app, error) {
	appDir, configPath, err := resolveDirs(flags)
	if err != nil {
		return nil, err
	}

	log := logger.SetDefault(logger.Config{Level: flags.LogLevel, File: flags.LogFile})
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	cfg := config.New(configPath)
	osa := adapter.Gops{}
	notifier := events.LogNotifier{Logger: log}

	var hist *history.Store
	if err := os.MkdirAll(appDir, 0o750); err == nil {
		if h, herr := history.Open(filepath.Join(appDir, "proxyctl.db")); herr == nil {
			if herr = h.EnsureSchema(context.Background()); herr == nil {
				hist = h
			} else {
				log.Warn("history schema init failed", "error", herr)
			}
		} else {
			log.Warn("history store unavailable", "error", herr)
		}
	}

	ka := keepalive.New(log)
	sup := supervisor.New(supervisor.Options{
		AppDir:    appDir,
		Config:    cfg,
		OS:        osa,
		Launcher:  launcher.New(log),
		Reclaimer: reclaim.New(osa, log),
		KeepAlive: ka,
		Notifier:  notifier,
		History:   hist,
		Logger:    log,
	})

	return &app{
		appDir:    appDir,
		cfg:       cfg,
		os:        osa,
		sup:       sup,
		relay:     relay.NewRegistry(log),
		keepAlive: ka,
		updater:   updater.New(appDir, cfg, notifier, proxyURL, log),
		auth:      authfiles.NewStore(cfg),
		hist:      hist,
	}, nil
}

// Serve runs the control API until SIGINT/SIGTERM.
func (a *app) Serve(addr, token string) error {
	exe, err := os.Executable()
	if err != nil {
		exe = ""
	}
	srv := server.NewServer(addr, server.Deps{
		Supervisor: a.sup,
		Relay:      a.relay,
		KeepAlive:  a.keepAlive,
		Updater:    a.updater,
		AuthFiles:  a.auth,
		Config:     a.cfg,
		OS:         a.os,
		History:    a.hist,
		AppPath:    exe,
		Token:      token,
	})
	fmt.Printf("control API listening on %s\n", addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	_ = srv.Close()
	a.relay.StopAll()
	a.sup.Shutdown()
	return nil
}

// Start launches the managed server and prints the outcome.
func (a *app) Start() error {
	res, err := a.sup.Start()
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

// Restart relaunches the managed server with a fresh credential.
func (a *app) Restart() error {
	res, err := a.sup.Restart()
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

// Status prints the current handle and liveness.
func (a *app) Status() error {
	type status struct {
		Running bool               `json:"running"`
		Handle  *supervisor.Handle `json:"handle,omitempty"`
	}
	printJSON(status{Running: a.sup.Alive(), Handle: a.sup.Handle()})
	return nil
}

// Callback runs one relay listener until interrupted.
func (a *app) Callback(port int, provider, mode, baseURL string) error {
	opts := relay.Options{Provider: provider, Mode: mode, BaseURL: baseURL}
	if opts.Mode == relay.ModeLocal || opts.Mode == "" {
		opts.Mode = relay.ModeLocal
		opts.LocalPort = a.cfg.Port()
	}
	if err := a.relay.Start(port, opts); err != nil {
		return err
	}
	fmt.Printf("callback relay listening on 127.0.0.1:%d\n", port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	return a.relay.Stop(port)
}

// KeepAlive runs the probe loop in the foreground until interrupted.
func (a *app) KeepAlive(port int, credential string) error {
	if port <= 0 {
		port = a.cfg.Port()
	}
	if err := a.keepAlive.Start(port, credential); err != nil {
		return err
	}
	fmt.Printf("keep-alive probing 127.0.0.1:%d\n", port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	a.keepAlive.Stop()
	return nil
}

// Autostart manages the login-time autostart registration.
func (a *app) Autostart(action string) error {
	switch action {
	case "on":
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		if err := a.os.RegisterAutostart(exe); err != nil {
			return err
		}
		fmt.Println("autostart enabled")
	case "off":
		if err := a.os.UnregisterAutostart(); err != nil {
			return err
		}
		fmt.Println("autostart disabled")
	case "status":
		enabled, err := a.os.AutostartEnabled()
		if err != nil {
			return err
		}
		fmt.Printf("autostart: %v\n", enabled)
	default:
		return fmt.Errorf("unknown autostart action %q (want on, off, or status)", action)
	}
	return nil
}

// Update checks for the latest release, optionally installing it.
func (a *app) Update(install bool) error {
	if !install {
		res, err := a.updater.Check()
		if err != nil {
			return err
		}
		printJSON(res)
		return nil
	}
	ver, err := a.updater.Install()
	if err != nil {
		return err
	}
	fmt.Printf("installed version %s\n", ver)
	return nil
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", v)
		return
	}
	fmt.Println(string(data))
}
