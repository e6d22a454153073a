// Command btprovd is the BLE Wi-Fi provisioning agent: it brings up
// the GATT provisioning service against BlueZ over D-Bus, drives Wi-Fi
// association through wpa_supplicant, and serves a debug/status HTTP
// surface.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/fieldkit-io/btprovd/internal/appagent"
	"github.com/fieldkit-io/btprovd/internal/auditlog"
	"github.com/fieldkit-io/btprovd/internal/config"
	"github.com/fieldkit-io/btprovd/internal/dbusclient"
	"github.com/fieldkit-io/btprovd/internal/gattsvc"
	"github.com/fieldkit-io/btprovd/internal/httpapi"
	"github.com/fieldkit-io/btprovd/internal/platform"
	"github.com/fieldkit-io/btprovd/internal/reactor"
	"github.com/fieldkit-io/btprovd/internal/wifi"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	audit, err := auditlog.Open(cfg.Database.Path)
	if err != nil {
		log.WithError(err).Fatal("failed to open audit log")
	}
	defer audit.Close()

	var dsnProvider appagent.DSNProvider
	if cfg.DSN.Static != "" {
		dsnProvider = appagent.StaticDSNProvider{Value: cfg.DSN.Static}
	} else {
		dsnProvider = appagent.GeneratedDSNProvider{CachePath: cfg.DSN.CachePath}
	}

	re, err := reactor.New()
	if err != nil {
		log.WithError(err).Fatal("failed to create reactor")
	}
	defer re.Teardown()

	bc := dbusclient.New(re, log)
	if err := bc.Connect(); err != nil {
		log.WithError(err).Fatal("failed to connect to system bus")
	}
	defer bc.Disconnect()

	collaborator, err := wifi.NewSupplicantCollaborator(cfg.BLE.WifiInterface, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to wpa_supplicant")
	}

	advertiser := platform.ShellAdvertiser{Adapter: cfg.BLE.Adapter, Log: log}
	led := platform.LoggingLEDController{Log: log}

	svc := gattsvc.New(re, bc, collaborator, dsnProvider, advertiser, led, audit, log)
	svc.Start()

	if cfg.Debug.Enabled {
		addr := cfg.Debug.Host + ":" + cfg.Debug.Port
		server := httpapi.New(addr, svc, audit, log)
		go func() {
			if err := server.ListenAndServe(); err != nil {
				log.WithError(err).Error("debug http server stopped")
			}
		}()
	}

	printBanner(cfg)

	if err := re.Run(); err != nil {
		log.WithError(err).Fatal("reactor stopped")
	}
	os.Exit(0)
}

func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("================================================================================")
	fmt.Println("  btprovd — BLE Wi-Fi Provisioning Agent")
	fmt.Println("================================================================================")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  Adapter:        %s\n", cfg.BLE.Adapter)
	fmt.Printf("  Wifi Interface: %s\n", cfg.BLE.WifiInterface)
	fmt.Printf("  Audit DB:       %s\n", cfg.Database.Path)
	if cfg.Debug.Enabled {
		fmt.Printf("  Debug HTTP:     http://%s:%s\n", cfg.Debug.Host, cfg.Debug.Port)
	} else {
		fmt.Println("  Debug HTTP:     disabled")
	}
	fmt.Println()
	fmt.Println("================================================================================")
	fmt.Println()
}
