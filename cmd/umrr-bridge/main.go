// Command umrr-bridge decodes UMRR radar telemetry into per-sensor point
// sets and relays configuration requests to the sensors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/umrr-bridge/internal/api"
	"github.com/banshee-data/umrr-bridge/internal/config"
	"github.com/banshee-data/umrr-bridge/internal/control"
	"github.com/banshee-data/umrr-bridge/internal/db"
	"github.com/banshee-data/umrr-bridge/internal/monitoring"
	"github.com/banshee-data/umrr-bridge/internal/radar/correlator"
	"github.com/banshee-data/umrr-bridge/internal/radar/dispatch"
	"github.com/banshee-data/umrr-bridge/internal/radar/pointcloud"
	"github.com/banshee-data/umrr-bridge/internal/radar/registry"
	"github.com/banshee-data/umrr-bridge/internal/serialmux"
	"github.com/banshee-data/umrr-bridge/internal/transport"
	"github.com/banshee-data/umrr-bridge/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the bridge configuration file")
	listen      = flag.String("listen", "", "HTTP listen address (overrides http_listen)")
	udpListen   = flag.String("udp", "", "UDP session address (overrides udp_listen)")
	grpcListen  = flag.String("grpc", "", "gRPC control address (overrides grpc_listen)")
	dbPath      = flag.String("db", "", "SQLite database path (overrides db_path)")
	replayPath  = flag.String("replay", "", "Replay a pcap/pcapng capture into the bridge after startup")
	replaySpeed = flag.Float64("replay-speed", 1, "Replay speed multiplier (0 = as fast as possible)")
	replayPort  = flag.Uint("replay-port", 0, "Only replay UDP datagrams to this destination port (0 = all)")
	synthetic   = flag.Bool("synthetic", false, "Run a synthetic sensor on loopback for every configured sensor")
	synthRate   = flag.Duration("synthetic-interval", 100*time.Millisecond, "Cycle interval of synthetic sensors")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// syntheticBasePort is the first loopback port handed to synthetic sensors.
const syntheticBasePort = 56000

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlagOverrides(cfg)
	if *synthetic {
		localizeSensors(cfg)
	}
	log.Printf("umrr-bridge %s, config %s", version.Get(), *configPath)

	reg := registry.New()
	if err := cfg.ApplyTo(reg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	instructions, err := allowlist(cfg.Instructions)
	if err != nil {
		log.Fatalf("invalid instruction allowlist: %v", err)
	}
	commands, err := allowlist(cfg.Commands)
	if err != nil {
		log.Fatalf("invalid command allowlist: %v", err)
	}

	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	metrics := monitoring.NewMetrics()
	commandLog := db.NewCommandLog(store, 0)
	corr := correlator.New(cfg.Policy(),
		correlator.WithRecorder(commandLog),
		correlator.WithMetrics(metrics),
	)

	udp := transport.NewUDP(transport.UDPConfig{
		Address:   cfg.GetUDPListen(),
		RcvBuf:    cfg.GetUDPRcvBuf(),
		QueueSize: cfg.GetQueueSize(),
		Registry:  reg,
		Metrics:   metrics,
	})
	router := &transport.Router{UDP: udp, Serial: map[uint32]transport.Link{}}

	var links []*transport.SerialLink
	var muxes []*serialmux.SerialMux[serial.Port]
	for _, a := range reg.Adapters() {
		if a.Path == "" {
			continue
		}
		m, err := serialmux.NewRealSerialMux(a.Path, serialmux.PortOptions{BaudRate: int(a.BaudRate)})
		if err != nil {
			log.Fatalf("failed to open adapter %d at %s: %v", a.HWDevID, a.Path, err)
		}
		link := transport.NewSerialLink(a, m, reg, metrics, cfg.GetQueueSize())
		router.Serial[a.HWDevID] = link
		links = append(links, link)
		muxes = append(muxes, m)
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Registry:       reg,
		Assembler:      pointcloud.NewAssembler(nil),
		Correlator:     corr,
		Transport:      router,
		Bootstrap:      store,
		Metrics:        metrics,
		MasterClientID: cfg.GetMasterClientID(),
		Instructions:   instructions,
		Commands:       commands,
	})
	if err != nil {
		log.Fatalf("failed to create dispatcher: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatcher.Start(ctx); err != nil {
		log.Fatalf("failed to start dispatcher: %v", err)
	}

	var wg sync.WaitGroup

	// the command log outlives the dispatcher so Close's orphan
	// transitions are written
	logCtx, stopLog := context.WithCancel(context.Background())
	logDone := make(chan struct{})
	go func() {
		defer close(logDone)
		commandLog.Run(logCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := udp.Listen(ctx, dispatcher); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("UDP session failed: %v", err)
			stop()
		}
		log.Print("UDP session terminated")
	}()

	for _, link := range links {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := link.Run(ctx, dispatcher); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("serial adapter %d failed: %v", link.Adapter().HWDevID, err)
			}
			log.Printf("serial adapter %d terminated", link.Adapter().HWDevID)
		}()
	}

	if *synthetic {
		startSyntheticSensors(ctx, &wg, udp, reg)
	}

	if *replayPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := transport.ReplayFile(ctx, *replayPath, transport.ReplayConfig{
				Port:     uint16(*replayPort),
				Speed:    *replaySpeed,
				Registry: reg,
				Metrics:  metrics,
			}, dispatcher)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("replay of %s failed: %v", *replayPath, err)
				return
			}
			log.Printf("replay of %s finished: %+v", *replayPath, stats)
		}()
	}

	// gRPC control service
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := control.NewGRPCServer(dispatcher).ListenAndServe(ctx, cfg.GetGRPCListen()); err != nil {
			log.Printf("control service failed: %v", err)
			stop()
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(dispatcher, store, metrics)
		mux := apiServer.ServeMux()
		apiServer.AttachAdminRoutes(mux)
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
		for i, m := range muxes {
			m.AttachAdminRoutes(mux, fmt.Sprintf("adapter-%d", links[i].Adapter().HWDevID))
		}

		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			monitoring.Logf("got request %s %q", r.Method, r.URL.Path)
			mux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:              cfg.GetHTTPListen(),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// every producer has stopped; orphan what is still outstanding
	dispatcher.Close()
	stopLog()
	<-logDone
	for _, m := range muxes {
		if err := m.Close(); err != nil {
			log.Printf("failed to close serial adapter: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}

// applyFlagOverrides copies non-empty command line addresses over the
// configuration file's values.
func applyFlagOverrides(cfg *config.BridgeConfig) {
	for _, o := range []struct {
		flag string
		dst  **string
	}{
		{*listen, &cfg.HTTPListen},
		{*udpListen, &cfg.UDPListen},
		{*grpcListen, &cfg.GRPCListen},
		{*dbPath, &cfg.DBPath},
	} {
		if o.flag != "" {
			v := o.flag
			*o.dst = &v
		}
	}
}

// allowlist returns nil, which accepts any well-formed name, when names is
// empty.
func allowlist(names []string) (*dispatch.Allowlist, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return dispatch.NewAllowlist(names...)
}

// localizeSensors moves every configured sensor onto loopback so synthetic
// sensors can stand in for them.
func localizeSensors(cfg *config.BridgeConfig) {
	for i := range cfg.Sensors {
		if cfg.Sensors[i].SensorID == 0 {
			return
		}
		cfg.Sensors[i].IP = "127.0.0.1"
		cfg.Sensors[i].Port = uint32(syntheticBasePort + i)
		cfg.Sensors[i].DevID = 0
	}
}

func startSyntheticSensors(ctx context.Context, wg *sync.WaitGroup, udp *transport.UDP, reg *registry.Registry) {
	select {
	case <-udp.Ready():
	case <-ctx.Done():
		return
	}
	bridge, err := loopbackAddr(udp.LocalAddr())
	if err != nil {
		log.Printf("synthetic sensors disabled: %v", err)
		return
	}
	for _, s := range reg.Sensors() {
		sensor := &transport.SyntheticSensor{
			SensorID: s.SensorID,
			Variant:  s.Variant,
			Listen:   fmt.Sprintf("%s:%d", s.IP, s.Port),
			Bridge:   bridge,
			Interval: *synthRate,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sensor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("synthetic sensor %d failed: %v", sensor.SensorID, err)
			}
		}()
	}
}

// loopbackAddr returns the loopback address of a session bound to addr,
// which may be a wildcard.
func loopbackAddr(addr net.Addr) (string, error) {
	ua, ok := addr.(*net.UDPAddr)
	if !ok || ua == nil {
		return "", fmt.Errorf("session is not bound to a UDP address: %v", addr)
	}
	return net.JoinHostPort("127.0.0.1", fmt.Sprint(ua.Port)), nil
}
