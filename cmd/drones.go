package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"drones/internal/pkg/upstream"
	"drones/pkg/config"
	"drones/pkg/drone"
)

type (
	environment struct {
		HttpServer *http.Server
		Router     *mux.Router
		Config     *config.Config
		Resolver   *drone.Resolver
		Logs       *drone.LogAggregator
	}
)

func main() {

	log.Println("Initializing Drones Gateway API.")
	configFlag := flag.String("config", "config.json", "path to config json or yaml file")
	flag.Parse()

	if *configFlag == "" {
		flag.Usage()
		log.Fatalln("config file is missing")
	}

	log.Println("parsing config file...")
	cfg, err := config.Parse(*configFlag)
	if err != nil {
		log.Fatal(err)
	}

	setupLogging(cfg)

	client := upstream.NewClient(cfg.ConfigURL, cfg.LogURL, time.Duration(cfg.UpstreamTimeoutSeconds)*time.Second)

	startServer(newEnvironment(cfg, client, client))
}

// sends log output to a rotated file when one is configured, stderr otherwise
func setupLogging(cfg *config.Config) {

	if cfg.LogFile == "" {
		return
	}

	log.Println("logging to", cfg.LogFile)
	log.SetOutput(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   true,
	})
}

func newEnvironment(cfg *config.Config, configs drone.ConfigSource, logs drone.LogSource) *environment {

	env := &environment{
		Config:   cfg,
		Resolver: drone.NewResolver(configs),
		Logs:     drone.NewLogAggregator(logs, cfg.LogDroneID, cfg.LogFields, cfg.MaxPages),
	}

	env.Router = mux.NewRouter()

	env.Router.HandleFunc("/configs/{id}", env.GetConfig).Methods("GET")
	env.Router.HandleFunc("/status/{id}", env.GetStatus).Methods("GET")
	env.Router.HandleFunc("/logs", env.GetLogs).Methods("GET")
	env.Router.HandleFunc("/POST/logs", env.PostLog).Methods("POST")

	env.HttpServer = &http.Server{
		Handler:           env.handler(),
		Addr:              fmt.Sprintf(":%s", env.Config.ApiPort),
		WriteTimeout:      60 * time.Second,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return env
}

// the router behind the cors policy, gzip compressed when configured
func (env *environment) handler() http.Handler {

	var h http.Handler = cors(env.Router)
	if env.Config.Gzip {
		h = gzhttp.GzipHandler(h)
	}

	return h
}

func startServer(env *environment) {

	go func() {
		log.Println("listening on:", env.HttpServer.Addr)
		if err := env.HttpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("received signal: %v. shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := env.HttpServer.Shutdown(ctx); err != nil {
		log.Println("server shutdown error:", err)
	}

	log.Println("Drones Gateway API stopped.")
}

// any origin may call the gateway
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
			if headers := r.Header.Get("Access-Control-Request-Headers"); headers != "" {
				w.Header().Set("Access-Control-Allow-Headers", headers)
				w.Header().Add("Vary", "Access-Control-Request-Headers")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
