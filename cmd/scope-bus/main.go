// Command scope-bus wires the property graph, channel control, acquisition
// tasks, and experiment supervisor into one running instance, grounded on
// the teacher's cmd/cam-bus/main.go (godotenv load, MQTT client, signal-
// driven shutdown) generalized from a camera fleet to a single instrument.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sua-org/scope-bus/internal/analysis"
	"github.com/sua-org/scope-bus/internal/channel"
	"github.com/sua-org/scope-bus/internal/config"
	"github.com/sua-org/scope-bus/internal/drivers"
	"github.com/sua-org/scope-bus/internal/events"
	"github.com/sua-org/scope-bus/internal/export"
	"github.com/sua-org/scope-bus/internal/graph"
	"github.com/sua-org/scope-bus/internal/image"
	"github.com/sua-org/scope-bus/internal/mqttclient"
	"github.com/sua-org/scope-bus/internal/storage"
	"github.com/sua-org/scope-bus/internal/supervisor"
	"github.com/sua-org/scope-bus/internal/tasks"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[main] no .env file loaded: %v", err)
	}

	cfg := config.LoadFromEnv()

	hub := graph.NewHub()
	for _, d := range cfg.Devices {
		drv, err := drivers.New(d.Kind, d.Name)
		if err != nil {
			log.Fatalf("[main] building driver %s (%s): %v", d.Name, d.Kind, err)
		}
		if err := hub.AddDevice(graph.NewDevice(d.Name, drv)); err != nil {
			log.Fatalf("[main] registering device %s: %v", d.Name, err)
		}
	}

	presets, err := channel.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Printf("[main] preset catalog %s not loaded (%v); starting with an empty catalog", cfg.CatalogPath, err)
		presets = map[string]channel.Preset{}
	}
	control := channel.NewControl(hub, presets)

	images := image.NewManager()

	analyzers := analysis.LoadFromEnv()
	if analyzers.Enabled() {
		images.AddAnalysisHook(analyzers.Hook())
		log.Printf("[main] analyzers enabled: %v", analyzers.Names())
	}

	if cfg.StorageEnabled {
		store, err := storage.NewMinioStoreFromEnv()
		if err != nil {
			log.Printf("[main] object storage not initialized: %v", err)
		} else {
			images.AddAnalysisHook(store.PersistHook())
		}
	}

	liveView := tasks.NewLiveViewTask(hub, images, cfg.CameraDeviceName)
	multiChannel := tasks.NewMultiChannelTask(hub, images, control, cfg.CameraDeviceName)
	sup := supervisor.New(hub, control, liveView, multiChannel, cfg.RequiredDevices)

	exportMgr := export.NewManager(cfg.ExportBin, cfg.ExportArgs, cfg.ExportTTL, func(s export.Status) {
		log.Printf("[export] %s: %s", s.ImageName, s.State)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exportStream := events.NewStream(0)
	images.Subscribe(exportStream, nil)
	go exportMgr.Run(ctx, exportStream)

	readinessStream := events.NewStream(0)
	go sup.WatchDeviceReadiness(ctx, readinessStream)

	var bridge *supervisor.Bridge
	var mqttCli *mqttclient.Client
	if cfg.MQTTEnabled {
		mqttCli, err = mqttclient.NewClientFromEnv("scope-bus")
		if err != nil {
			log.Printf("[main] MQTT not connected: %v", err)
		} else {
			defer mqttCli.Close()
			bridge = supervisor.NewBridge(mqttCli, cfg.MQTTBaseTopic, sup)
			if err := bridge.Subscribe(); err != nil {
				log.Printf("[main] MQTT command subscription failed: %v", err)
			}
			bridgeStream := events.NewStream(0)
			hub.Subscribe(bridgeStream, nil)
			images.Subscribe(bridgeStream, nil)
			sup.Subscribe(bridgeStream, nil)
			liveView.Subscribe(bridgeStream, nil)
			multiChannel.Subscribe(bridgeStream, nil)
			go bridge.PublishEvents(bridgeStream)
		}
	}

	statusPublisher := supervisor.NewStatusPublisher(cfg.StatusInterval, func(s supervisor.ProcessStatus) {
		log.Printf("[status] cpu=%.1f%% rss=%dB", s.CPUPercent, s.MemRSSBytes)
		if bridge != nil {
			bridge.PublishHubStatus(fmt.Sprintf(`{"cpuPercent":%.2f,"memRSSBytes":%d,"timestamp":%q}`,
				s.CPUPercent, s.MemRSSBytes, s.Timestamp.Format(time.RFC3339)))
		}
	})
	go statusPublisher.Run(ctx)

	if err := hub.ConnectAll(ctx); err != nil {
		log.Printf("[main] ConnectAll reported errors: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("[main] shutting down...")

	cancel()
	_ = sup.StopLiveView(context.Background())
	_ = hub.DisconnectAll(context.Background())
	time.Sleep(200 * time.Millisecond)
}
