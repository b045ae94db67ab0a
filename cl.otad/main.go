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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fleetota/clechozap"
	"fleetota/cloudctl"
	"fleetota/otabroker"
	"fleetota/otalog"
	"fleetota/otamsg"
	"fleetota/otaregistry"
	"fleetota/otastore"
)

const pname = "cl.otad"

func silenceUsage(cmd *cobra.Command, args []string) {
	cmd.SilenceUsage = true
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetString("port")
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

	reg, err := otaregistry.Connect(cfg.Database.DSN)
	if err != nil {
		return err
	}
	if cfg.Database.SchemaDir != "" {
		if err := reg.LoadSchema(ctx, cfg.Database.SchemaDir); err != nil {
			return err
		}
	}

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

	ctrl := cloudctl.New(reg, store, broker, log)

	if err := subscribeStateTopic(broker, ctrl, log); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(clechozap.Logger(log))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	newAPIHandler(e, ctrl, reg, store, log, cfg.ObjectStore.DefaultBucket)

	addr := fmt.Sprintf("%s:%s", host, port)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", zap.Error(err))
		}
	}()
	log.Info("cl.otad listening", zap.String("addr", addr))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return e.Shutdown(ctx)
}

// subscribeStateTopic wires the broker's wildcard state-topic
// subscription to the controller's four-pass handler. Malformed
// snapshots and unrecognized topics are logged and dropped; a broker
// callback cannot return an error to anything.
func subscribeStateTopic(broker *otabroker.Broker, ctrl *cloudctl.Controller, log *zap.Logger) error {
	return broker.Subscribe(broker.StateTopicFilter(), func(topic string, payload []byte) {
		robotID, ok := broker.RobotIDFromStateTopic(topic)
		if !ok {
			log.Warn("state message on unparseable topic", zap.String("topic", topic))
			return
		}
		var snapshot otamsg.StateSnapshot
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			log.Warn("malformed state snapshot", zap.String("robot_id", robotID), zap.Error(err))
			return
		}
		if err := ctrl.HandleStateMessage(context.Background(), robotID, snapshot); err != nil {
			log.Error("state message handling failed", zap.String("robot_id", robotID), zap.Error(err))
		}
	})
}

func main() {
	rootCmd := &cobra.Command{
		Use:              pname,
		Short:            "cloud file-deployment service",
		PersistentPreRun: silenceUsage,
		RunE:             run,
	}
	rootCmd.Flags().String("config", "/etc/"+pname+"/config.yaml", "path to YAML config file")
	rootCmd.Flags().String("host", "", "address to listen on")
	rootCmd.Flags().String("port", "8080", "port to listen on")
	rootCmd.Flags().BoolP("verbose", "v", false, "enable verbose (dev-mode) logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", pname, err)
		os.Exit(1)
	}
}
