// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command appvisord supervises the applications listed in a process file,
// and serves their status and controls over HTTP.
//
// The flags are
//
//	-a <address>	- listen address, default 127.0.0.1:8321
//	-f <file>	- process file, default ecosystem.yaml
//	-n <name>	- name of this instance
//	-u <user>	- require basic auth as user; the bcrypt hash of
//			  the password is read from $APPVISOR_AUTH_HASH
//	-t <duration>	- how long to wait for applications at shutdown
//	-log-level, -log-format, -log-output
//			- operational logging (level, json|console, file)
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/gdamore/appvisor"
	"github.com/gdamore/appvisor/manifest"
	"github.com/gdamore/appvisor/rest"
)

var addr string = "127.0.0.1:8321"
var file string = "ecosystem.yaml"
var name string = "appvisord"
var user string = ""
var shutdownTimeout = 30 * time.Second
var logCfg = appvisor.LogConfig{Level: "info", Format: "console"}

const authHashEnv = "APPVISOR_AUTH_HASH"

func main() {
	flag.StringVar(&addr, "a", addr, "listen address")
	flag.StringVar(&file, "f", file, "process file")
	flag.StringVar(&name, "n", name, "appvisor name")
	flag.StringVar(&user, "u", user, "basic auth user")
	flag.DurationVar(&shutdownTimeout, "t", shutdownTimeout, "shutdown timeout")
	flag.StringVar(&logCfg.Level, "log-level", logCfg.Level, "log level")
	flag.StringVar(&logCfg.Format, "log-format", logCfg.Format, "log format (json or console)")
	flag.StringVar(&logCfg.OutputPath, "log-output", logCfg.OutputPath, "log file (default stderr)")
	flag.Parse()

	logger, e := appvisor.NewLogger(logCfg)
	if e != nil {
		log.Fatalf("Failed to set up logging: %v", e)
	}
	defer logger.Sync()

	cfgs, e := manifest.Load(file)
	if e != nil {
		logger.Fatal("Failed to load process file",
			zap.String("file", file), zap.Error(e))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := appvisor.NewManager(name)
	m.SetLogger(logger)
	m.SetMetrics(appvisor.NewMetrics(reg))
	for _, cfg := range cfgs {
		if _, e := m.NewSupervisor(cfg); e != nil {
			logger.Fatal("Bad application", zap.String("app", cfg.Name),
				zap.Error(e))
		}
	}

	opts := []rest.HandlerOption{rest.WithGatherer(reg)}
	if user != "" {
		hash := os.Getenv(authHashEnv)
		if hash == "" {
			logger.Fatal("Authentication requested without a password hash",
				zap.String("env", authHashEnv))
		}
		opts = append(opts, rest.WithBasicAuth(user, []byte(hash)))
	}
	srv := &http.Server{Addr: addr, Handler: rest.NewHandler(m, opts...)}

	if e := m.StartAll(); e != nil {
		logger.Error("Some applications failed to start", zap.Error(e))
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		logger.Info("Listening", zap.String("addr", addr))
		if e := srv.ListenAndServe(); !errors.Is(e, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(e))
			sigs <- syscall.SIGTERM
		}
	}()

	// Wait for a termination signal, and shutdown cleanly if we get it.
	sig := <-sigs
	logger.Info("Received signal", zap.Stringer("signal", sig))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	rv := 0
	if e := m.Shutdown(ctx); e != nil {
		logger.Error("Applications did not stop cleanly", zap.Error(e))
		rv = 1
	}
	// Held long polls would otherwise delay exit.
	srv.Close()
	logger.Sync()
	os.Exit(rv)
}
