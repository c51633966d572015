// Bikelinkd - e-bike display diagnostic gateway
//
// A headless daemon that connects to e-bike displays over USB HID (or a
// TCP report bridge), scans their diagnostic fields, and republishes the
// values via REST, MQTT, Valkey, and Kafka.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bikelink/api"
	"bikelink/config"
	"bikelink/devman"
	"bikelink/kafka"
	"bikelink/logging"
	"bikelink/mqtt"
	"bikelink/valkey"
)

// Version is set at build time via -ldflags
var Version = "dev"

// managers bundles the shared backends for the API server.
type managers struct {
	cfg        *config.Config
	configPath string
	devMan     *devman.Manager
}

func (m *managers) GetConfig() *config.Config  { return m.cfg }
func (m *managers) GetConfigPath() string      { return m.configPath }
func (m *managers) GetDevMan() *devman.Manager { return m.devMan }

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	debugLog := flag.String("debug-log", "", "Write a protocol debug log to this path")
	debugFilter := flag.String("debug-filter", "", "Comma-separated debug channels (uds, hid, mqtt, ...)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("bikelinkd %s\n", Version)
		os.Exit(0)
	}

	if *debugLog != "" {
		dl, err := logging.NewDebugLogger(*debugLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening debug log: %v\n", err)
			os.Exit(1)
		}
		dl.SetFilter(*debugFilter)
		logging.SetGlobalDebugLogger(dl)
		defer dl.Close()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// Device manager and its scan workers
	manager := devman.NewManager(cfg.PollRate)
	manager.LoadFromConfig(cfg)

	// REST API server
	apiServer := api.NewServer(&cfg.Web, &managers{
		cfg:        cfg,
		configPath: *configPath,
		devMan:     manager,
	})

	// MQTT publishers
	mqttMgr := mqtt.NewManager()
	mqttMgr.LoadFromConfig(cfg.MQTT, cfg.Namespace)

	// Valkey publishers
	valkeyMgr := valkey.NewManager()
	valkeyMgr.LoadFromConfig(cfg.Valkey, cfg.Namespace)

	// Kafka clusters
	kafkaMgr := kafka.NewManager()
	for i := range cfg.Kafka {
		kc := kafka.FromYAML(&cfg.Kafka[i], cfg.Namespace)
		kafkaMgr.AddCluster(&kc)
	}

	// Republish field changes. Each sink runs in its own goroutine so a
	// slow broker cannot stall the others.
	manager.SetOnFieldChange(func(changes []devman.FieldChange) {
		mqttRunning := mqttMgr.AnyRunning()
		valkeyRunning := valkeyMgr.AnyRunning()
		kafkaPublishing := kafkaMgr.AnyPublishing()

		if !mqttRunning && !valkeyRunning && !kafkaPublishing {
			return
		}

		changesCopy := make([]devman.FieldChange, len(changes))
		copy(changesCopy, changes)

		if mqttRunning {
			go func() {
				for _, c := range changesCopy {
					mqttMgr.Publish(c.Device, c.Field, c.Value, true)
				}
			}()
		}

		if valkeyRunning {
			go func() {
				for _, c := range changesCopy {
					valkeyMgr.Publish(c.Device, c.Field, c.Value)
				}
			}()
		}

		if kafkaPublishing {
			go func() {
				for _, c := range changesCopy {
					// force=true: the change detection already ran upstream
					kafkaMgr.Publish(c.Device, c.Field, c.Value, true)
				}
			}()
		}
	})

	// Device health fan-out on status changes
	manager.SetOnChange(func() {
		for _, dev := range manager.ListDevices() {
			status := dev.GetStatus()
			online := status == devman.StatusConnected
			errMsg := ""
			if err := dev.GetError(); err != nil {
				errMsg = err.Error()
			}
			mqttMgr.PublishHealth(dev.Config.Name, status.String(), dev.GetError())
			valkeyMgr.PublishHealth(dev.Config.Name, online, status.String(), errMsg)
			kafkaMgr.PublishHealth(dev.Config.Name, online, status.String(), errMsg)
		}
	})

	// Write-back from MQTT and Valkey goes through the device manager
	writeHandler := func(device, field string, payload []byte) error {
		return manager.WriteField(device, field, payload)
	}
	mqttMgr.SetWriteHandler(writeHandler)
	valkeyMgr.SetWriteHandler(writeHandler)

	// Initial full publish whenever a Valkey server (re)connects
	valkeyMgr.SetOnConnectCallback(func() {
		for _, c := range manager.GetAllCurrentValues() {
			valkeyMgr.Publish(c.Device, c.Field, c.Value)
		}
	})

	// Start scanning
	manager.Start()

	if cfg.Web.Enabled {
		if err := apiServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to start API server: %v\n", err)
		} else {
			fmt.Printf("API listening on %s\n", apiServer.Address())
		}
	}

	// Connect enabled devices first so there are values to publish
	manager.ConnectEnabled()

	// Start publishers in the background
	go func() {
		if started := mqttMgr.StartAll(); started > 0 {
			for _, c := range manager.GetAllCurrentValues() {
				mqttMgr.Publish(c.Device, c.Field, c.Value, true)
			}
		}
	}()
	go valkeyMgr.StartAll()
	go kafkaMgr.ConnectEnabled()

	// Run until interrupted
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("shutting down")
	apiServer.Stop()
	manager.Stop()
	manager.DisconnectAll()
	mqttMgr.StopAll()
	valkeyMgr.StopAll()
	kafkaMgr.StopAll()
}
