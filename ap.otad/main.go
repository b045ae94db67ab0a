/*
 * COPYRIGHT 2024 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fleetota/otabroker"
	"fleetota/otalog"
	"fleetota/otamsg"
	"fleetota/otastore"
)

const pname = "ap.otad"

func silenceUsage(cmd *cobra.Command, args []string) {
	cmd.SilenceUsage = true
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	verbose, _ := cmd.Flags().GetBool("verbose")

	mode := otalog.ModeAuto
	level := zapcore.InfoLevel
	if verbose {
		mode = otalog.ModeDev
		level = zapcore.DebugLevel
	}
	log, _ := otalog.Setup(mode, level)
	defer log.Sync()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()

	store, err := otastore.New(ctx, otastore.Config{
		Region:          cfg.ObjectStore.Region,
		Endpoint:        cfg.ObjectStore.Endpoint,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		UsePathStyle:    cfg.ObjectStore.UsePathStyle,
	})
	if err != nil {
		return err
	}

	broker, err := otabroker.NewBroker(ctx, otabroker.Config{
		Broker:   cfg.Broker.URL,
		ClientID: cfg.Broker.ClientID,
		Pattern:  cfg.Broker.Pattern,
	}, log)
	if err != nil {
		return err
	}
	defer broker.Close()

	jobs := newJobMap()
	deployQueue := make(chan otamsg.DeployMsg, deployQueueDepth)
	uploadQueue := make(chan []oneUpload, uploadQueueDepth)

	if err := subscribeDeployTopic(broker, cfg.RobotID, deployQueue, jobs, log); err != nil {
		return err
	}
	if err := subscribeAckTopic(broker, cfg.RobotID, jobs, log); err != nil {
		return err
	}

	var wg sync.WaitGroup
	deployDone := make(chan bool)
	reportDone := make(chan bool)
	uploadDone := make(chan bool)

	wg.Add(1)
	go deployWorker(ctx, &wg, deployDone, deployQueue, jobs, store, log)

	wg.Add(1)
	go reportLoop(&wg, reportDone, broker, cfg.RobotID, jobs, cfg.ReportInterval, log)

	if cfg.CloudBaseURL != "" {
		wg.Add(1)
		go uploadWorker(ctx, &wg, uploadDone, uploadQueue, cfg.CloudBaseURL, log)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	log.Info("ap.otad running", zap.String("robot_id", cfg.RobotID))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	deployDone <- true
	reportDone <- true
	if cfg.CloudBaseURL != "" {
		uploadDone <- true
	}
	wg.Wait()

	_ = metricsSrv.Shutdown(ctx)
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:              pname,
		Short:            "robot-side file-deployment daemon",
		PersistentPreRun: silenceUsage,
		RunE:             run,
	}
	rootCmd.Flags().String("config", "/etc/"+pname+"/config.yaml", "path to YAML config file")
	rootCmd.Flags().String("metrics-addr", ":9091", "address to serve /metrics on")
	rootCmd.Flags().BoolP("verbose", "v", false, "enable verbose (dev-mode) logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", pname, err)
		os.Exit(1)
	}
}
