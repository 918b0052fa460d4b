package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"smsrelay/agent"
	"smsrelay/api"
	"smsrelay/bridge"
	"smsrelay/config"
	"smsrelay/discovery"
	"smsrelay/logging"
	"smsrelay/models"
	"smsrelay/notify"
	"smsrelay/storage"
	"smsrelay/syncer"
	"smsrelay/transport"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "smsrelay",
		Short:         "Mirror a phone's SMS inbox onto the desktop",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(desktopCmd(), agentCmd(), devicesCmd())
	return root
}

func desktopCmd() *cobra.Command {
	var connectIP string
	var connectSerial string

	cmd := &cobra.Command{
		Use:   "desktop",
		Short: "Run the synchronizer and the local data API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := config.LoadOrCreate()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			runtimeCfg, err := config.ApplyEnv(cfg)
			if err != nil {
				return err
			}
			log := logging.New(os.Stderr, runtimeCfg.LogLevel)

			dataDir := filepath.Dir(cfgPath)
			store, dbPath, err := storage.Open(dataDir)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Error().Err(err).Msg("database close")
				}
			}()

			log.Info().
				Str("instance_id", cfg.InstanceID).
				Str("config", cfgPath).
				Str("database", dbPath).
				Msg("desktop starting")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var agents transport.AgentLister
			scanner, err := discovery.NewAgentScanner(discovery.Config{})
			if err != nil {
				log.Warn().Err(err).Msg("agent discovery unavailable")
			} else {
				scanner.Start()
				defer scanner.Stop()
				agents = scanner
				go logDiscoveryEvents(log, scanner.Events())
			}

			selector := transport.NewSelector(transport.Options{
				Bridge:    bridge.NewADB(runtimeCfg.ADBPath, bridge.ExecRunner{}),
				Client:    transport.NewClient(transport.ClientOptions{Log: log}),
				Agents:    agents,
				AgentPort: runtimeCfg.AgentPort,
				Log:       log,
			})

			hub := notify.NewHub(log)
			go hub.Run(ctx)

			relay, err := syncer.New(syncer.Options{
				Store:     store,
				Transport: selector,
				Notifier:  hub,
				// Preferences are saved over the file config so env overrides never leak to disk.
				Config: cfg,
				SaveConfig: func(next *config.Config) error {
					return config.Save(cfgPath, next)
				},
				PollInterval:     time.Duration(runtimeCfg.PollIntervalSeconds) * time.Second,
				FailureThreshold: runtimeCfg.FailureThreshold,
				Log:              log,
			})
			if err != nil {
				return fmt.Errorf("start synchronizer: %w", err)
			}
			defer func() {
				_ = relay.Close()
			}()

			if target, ok := startupTarget(connectIP, connectSerial); ok {
				if _, err := relay.Connect(ctx, target); err != nil {
					log.Warn().Err(err).Str("target", target.String()).Msg("startup connect failed")
				}
			}

			router := api.NewRouter(api.Options{
				Service:    relay,
				Discoverer: selector,
				Events:     hub,
				Log:        log,
			})
			return router.ListenAndServe(ctx, runtimeCfg.APIListenAddress)
		},
	}

	cmd.Flags().StringVar(&connectIP, "connect", "", "connect to an agent at this IP on startup")
	cmd.Flags().StringVar(&connectSerial, "serial", "", "connect to this wired device on startup")

	return cmd
}

func startupTarget(ip, serial string) (transport.Target, bool) {
	switch {
	case ip != "":
		return transport.Target{Mode: models.ModeNetwork, Identifier: ip}, true
	case serial != "":
		return transport.Target{Mode: models.ModeBridge, Identifier: serial}, true
	default:
		return transport.Target{}, false
	}
}

func agentCmd() *cobra.Command {
	var (
		listen    string
		source    string
		inbox     string
		serial    string
		adbPath   string
		deviceID  string
		logLevel  string
		blocklist bool
		advertise bool
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve the device inbox over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(os.Stderr, logLevel)

			var src agent.Source
			switch source {
			case "file":
				if inbox == "" {
					return fmt.Errorf("--inbox is required with --source file")
				}
				src = agent.JSONLinesSource{Path: inbox, Log: log}
			case "content":
				src = agent.ContentQuerySource{
					Runner:               bridge.ExecRunner{},
					ADBPath:              adbPath,
					Serial:               serial,
					HonorDeviceBlocklist: blocklist,
					Log:                  log,
				}
			default:
				return fmt.Errorf("unknown --source %q (want file or content)", source)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			listener, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %q: %w", listen, err)
			}

			if advertise {
				port := listener.Addr().(*net.TCPAddr).Port
				if deviceID == "" {
					deviceID = uuid.NewString()
				}
				broadcaster, err := discovery.StartBroadcaster(discovery.Config{
					DeviceID: deviceID,
					Port:     port,
				})
				if err != nil {
					log.Warn().Err(err).Msg("mDNS advertisement failed")
				} else {
					defer broadcaster.Stop()
					log.Info().Str("device_id", deviceID).Int("port", port).Msg("advertising agent")
				}
			}

			return agent.NewServer(src, log).Serve(ctx, listener)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":"+strconv.Itoa(agent.DefaultPort), "address to serve on")
	cmd.Flags().StringVar(&source, "source", "content", "inbox source: file or content")
	cmd.Flags().StringVar(&inbox, "inbox", "", "JSON lines inbox file for --source file")
	cmd.Flags().StringVar(&serial, "serial", "", "query a wired device through adb instead of the local provider")
	cmd.Flags().StringVar(&adbPath, "adb", config.DefaultADBPath, "adb executable")
	cmd.Flags().StringVar(&deviceID, "device-id", "", "device id advertised over mDNS (default: random)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().BoolVar(&blocklist, "honor-blocklist", true, "skip senders in the device's own block list")
	cmd.Flags().BoolVar(&advertise, "advertise", false, "advertise the agent over mDNS")

	return cmd
}

func devicesCmd() *cobra.Command {
	var adbPath string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List wired devices visible to adb",
		RunE: func(cmd *cobra.Command, args []string) error {
			if adbPath == "" {
				cfg, _, err := config.LoadOrCreate()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				runtimeCfg, err := config.ApplyEnv(cfg)
				if err != nil {
					return err
				}
				adbPath = runtimeCfg.ADBPath
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			selector := transport.NewSelector(transport.Options{
				Bridge: bridge.NewADB(adbPath, bridge.ExecRunner{}),
				Log:    zerolog.Nop(),
			})
			devices, err := selector.ListDevices(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERIAL\tSTATE")
			for _, device := range devices {
				fmt.Fprintf(w, "%s\t%s\n", device.Serial, device.State)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&adbPath, "adb", "", "adb executable (default: from config)")

	return cmd
}

func logDiscoveryEvents(log zerolog.Logger, events <-chan discovery.Event) {
	for event := range events {
		switch event.Type {
		case discovery.EventAgentUpserted:
			log.Info().
				Str("device_id", event.Agent.DeviceID).
				Str("name", event.Agent.Name).
				Strs("addresses", event.Agent.Addresses).
				Int("port", event.Agent.Port).
				Msg("agent available")
		case discovery.EventAgentRemoved:
			log.Info().Str("device_id", event.Agent.DeviceID).Msg("agent removed")
		}
	}
}
