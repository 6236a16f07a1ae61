// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"batchrunner/src/auditsink"
	"batchrunner/src/controlapi"
	"batchrunner/src/coreprobe"
	"batchrunner/src/logging"
	"batchrunner/src/procctl"
	"batchrunner/src/scheduler"
	"batchrunner/src/statestore"
	"batchrunner/src/supervisor"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, continuing with process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := logging.SetupOTelSDK(ctx)
	if err != nil {
		panic(fmt.Sprintf("failed to setup OTel SDK: %v", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "OTel shutdown error: %v\n", err)
		}
	}()

	statePath := os.Getenv("BATCHRUNNER_STATE_FILE")
	if statePath == "" {
		statePath = "batchrunner_state.json"
	}
	logRoot := os.Getenv("BATCHRUNNER_LOG_DIR")
	if logRoot == "" {
		logRoot = "logs"
	}
	if err := os.MkdirAll(logRoot, 0o755); err != nil {
		panic(fmt.Sprintf("failed to create log directory %s: %v", logRoot, err))
	}

	controls := procctl.Default()
	store := statestore.New(statePath)
	sup := supervisor.New(controls)
	audit := auditsink.NewFromEnv()

	totalCores := coreprobe.TotalCores()
	sched := scheduler.New(totalCores, logRoot, store, sup, controls, audit)
	api := controlapi.New(sched)

	logging.Log(fmt.Sprintf("batchrunner starting with %d cores, state=%s, logs=%s", totalCores, statePath, logRoot), slog.LevelInfo)

	apiPort := os.Getenv("API_PORT")
	if apiPort == "" {
		apiPort = "8080"
	}
	go func() {
		if err := StartAPIServer(ctx, apiPort, api); err != nil {
			logging.Log("control API server error: "+err.Error(), slog.LevelError)
		}
	}()

	if watchNames := os.Getenv("BATCHRUNNER_WATCHDOG_PROCESSES"); watchNames != "" {
		names := strings.Split(watchNames, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
		watchdog := procctl.NewWatchdog(controls, names, 30*time.Second)
		go watchdog.Run(ctx)
	}

	sched.StartQueue()

	// Setup a Timer for housekeeping (fall-back admission retries, in
	// case a missed event left jobs stranded Queued with cores free).
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	logging.Log("batchrunner queue started", slog.LevelInfo)

	for {
		select {
		case <-ctx.Done():
			logging.Log("shutting down batchrunner gracefully...", slog.LevelInfo)
			return
		case <-ticker.C:
			sched.PollAdmission()
		case ev := <-sched.Events():
			if ev.Type == scheduler.QueueFinished {
				logging.Log("queue finished: no jobs running or queued", slog.LevelInfo)
			}
		}
	}
}
