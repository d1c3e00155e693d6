// doipsimd is a DoIP (ISO 13400) / UDS (ISO 14229) diagnostics server
// emulator: it speaks the vehicle-identification, routing-activation, and
// diagnostic-message exchange over TCP and UDP, answering requests from a
// Response Catalog with a deterministic default-synthesis fallback.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doipsim/catalog"
	"doipsim/config"
	"doipsim/events"
	"doipsim/logging"
	"doipsim/monitor"
	"doipsim/server"
	"doipsim/status"
	"doipsim/uds"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	runMonitor  = flag.Bool("monitor", false, "Run the read-only terminal dashboard instead of logging to stdout")
	logDebug    = flag.String("log-debug", "", "Enable debug logging. Use without value for all, or a comma list (tcp,udp,routing,uds,catalog)")
	logDebugFile = flag.String("log-debug-file", "debug.log", "Path to the debug log file (used only with -log-debug)")
	logFile      = flag.String("log-file", "", "Path to a plain append-only event log (optional, in addition to -monitor/stdout)")
)

func main() {
	args := os.Args[1:]
	if flagPassedNoValue("log-debug") {
		// Give a bare -log-debug the value "all" so the flag package does not
		// fail on it or take the next flag as its value.
		for i, arg := range args {
			if arg == "--log-debug" || arg == "-log-debug" {
				args = append(args[:i+1:i+1], append([]string{"all"}, args[i+1:]...)...)
				break
			}
		}
	}
	flag.CommandLine.Parse(args)

	if *showVersion {
		fmt.Printf("doipsimd %s\n", Version)
		os.Exit(0)
	}

	if *logDebug != "" {
		logger, err := logging.NewDebugLogger(*logDebugFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening debug log: %v\n", err)
			os.Exit(1)
		}
		if *logDebug != "all" {
			logger.SetFilter(*logDebug)
		}
		logging.SetGlobalDebugLogger(logger)
		defer logger.Close()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	identity, err := cfg.Server.ToIdentity()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	vehicle, err := cfg.Vehicle.ToVehicleIdentity()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	cat, err := catalog.Load(cfg.Server.ResponseFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading catalog: %v\n", err)
		os.Exit(1)
	}
	responder := uds.NewResponder(cat)

	bus := events.NewBus()
	sinks := attachSinks(cfg, bus)

	if *logFile != "" {
		fileLogger, err := logging.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer fileLogger.Close()
		bus.Subscribe(func(e events.Event) {
			if e.Peer != "" {
				fileLogger.Log("[%s/%s] %s (%s)", e.Category, e.Severity, e.Message, e.Peer)
			} else {
				fileLogger.Log("[%s/%s] %s", e.Category, e.Severity, e.Message)
			}
		})
	}

	srv, err := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Identity:        identity,
		Vehicle:         vehicle,
		Responder:       responder,
		AnnounceOnStart: cfg.Server.AnnounceOnStart,
	}, bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error constructing server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error starting server: %v\n", err)
		os.Exit(1)
	}

	var statusSrv *statusHTTPServer
	if cfg.Status.Enabled {
		statusSrv = startStatusServer(cfg, srv, cat, sinks)
	}

	if *runMonitor {
		dash := monitor.New(srv, bus)
		if err := dash.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "monitor error: %v\n", err)
		}
		shutdown(srv, statusSrv)
		return
	}

	bus.Subscribe(func(e events.Event) {
		fmt.Printf("%s [%s/%s] %s", e.Timestamp.Format("15:04:05"), e.Category, e.Severity, e.Message)
		if e.Peer != "" {
			fmt.Printf(" (%s)", e.Peer)
		}
		fmt.Println()
	})

	waitForSignal()
	shutdown(srv, statusSrv)
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

func shutdown(srv *server.Server, statusSrv *statusHTTPServer) {
	srv.Stop()
	if statusSrv != nil {
		statusSrv.Close()
	}
}

// attachSinks connects every configured egress adapter to bus and returns
// the attached sinks, so the status surface can report their connected
// state alongside the DoIP server's own.
func attachSinks(cfg *config.Config, bus *events.Bus) []events.Sink {
	var sinks []events.Sink

	for _, sinkCfg := range cfg.MQTTSinks() {
		sink, err := events.NewMQTTSink(sinkCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mqtt sink %s: %v\n", sinkCfg.Name, err)
			continue
		}
		sink.Attach(bus)
		sinks = append(sinks, sink)
	}
	for _, sinkCfg := range cfg.KafkaSinks() {
		sink := events.NewKafkaSink(sinkCfg)
		sink.Attach(bus)
		sinks = append(sinks, sink)
	}
	for _, sinkCfg := range cfg.RedisSinks() {
		sink, err := events.NewRedisSink(sinkCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis sink %s: %v\n", sinkCfg.Name, err)
			continue
		}
		sink.Attach(bus)
		sinks = append(sinks, sink)
	}

	return sinks
}

// statusHTTPServer wraps the status router's *http.Server for lifecycle
// management alongside the DoIP server.
type statusHTTPServer struct {
	httpSrv *http.Server
}

func startStatusServer(cfg *config.Config, srv *server.Server, cat *catalog.Catalog, sinks []events.Sink) *statusHTTPServer {
	listen := net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port))
	router := status.NewRouter(srv, cat, listen, sinks)

	addr := net.JoinHostPort(cfg.Status.Host, fmt.Sprintf("%d", cfg.Status.Port))
	httpSrv := &http.Server{Addr: addr, Handler: router}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "status server error: %v\n", err)
		}
	}()

	return &statusHTTPServer{httpSrv: httpSrv}
}

func (s *statusHTTPServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.httpSrv.Shutdown(ctx)
}

// flagPassedNoValue reports whether name was passed on the command line
// with no following value, so --log-debug alone can mean "all" the same
// way it does for the flag this one is modeled on.
func flagPassedNoValue(name string) bool {
	args := os.Args[1:]
	for i, arg := range args {
		if arg != "--"+name && arg != "-"+name {
			continue
		}
		return i+1 >= len(args) || (len(args[i+1]) > 0 && args[i+1][0] == '-')
	}
	return false
}
