package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HsiangNianian/cumo/internal/config"
	"github.com/HsiangNianian/cumo/internal/logging"
	"github.com/HsiangNianian/cumo/internal/protocol"
	"github.com/HsiangNianian/cumo/internal/session"
	"github.com/HsiangNianian/cumo/internal/store"
	"github.com/HsiangNianian/cumo/internal/web"
	"github.com/HsiangNianian/cumo/internal/ws"
	"github.com/HsiangNianian/cumo/viewer"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := pflag.String("config", "", "config file (.json/.jsonc/.hujson or .yaml)")
	host := pflag.String("host", "", "address to bind and advertise")
	websocketPort := pflag.Int("websocket-port", 0, "websocket port")
	httpPort := pflag.Int("http-port", 0, "http port serving the viewer page")
	staticDir := pflag.String("static-dir", "", "directory holding index.html")
	logLevel := pflag.String("log-level", "", "log level (debug, info, warn, error)")
	redisAddr := pflag.String("redis-addr", "", "keep scene state in redis at this address")
	screenshotDir := pflag.String("screenshot-dir", ".", "where the start button and the A key save screenshots")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: cumo [flags] <file.pcd>\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}
	pcdPath := pflag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if pflag.CommandLine.Changed("host") {
		cfg.Server.Host = *host
	}
	if pflag.CommandLine.Changed("websocket-port") {
		cfg.Server.WebsocketPort = *websocketPort
	}
	if pflag.CommandLine.Changed("http-port") {
		cfg.Server.HTTPPort = *httpPort
	}
	if pflag.CommandLine.Changed("static-dir") {
		cfg.Server.StaticDir = *staticDir
	}
	if pflag.CommandLine.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if pflag.CommandLine.Changed("redis-addr") {
		cfg.Store.RedisAddr = *redisAddr
	}

	if err := logging.Setup(cfg.Log); err != nil {
		log.Fatalf("setup logging failed: %v", err)
	}
	defer logging.Close()

	var st store.Store
	if cfg.Store.RedisAddr != "" {
		redisStore := store.NewRedisStore(cfg.Store.RedisAddr, cfg.Store.KeyPrefix)
		defer redisStore.Close()
		st = redisStore
		log.Infof("use redis store: %s", cfg.Store.RedisAddr)
	} else {
		st = store.NewMemoryStore()
		log.Infof("use memory store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, st, pcdPath, *screenshotDir); err != nil {
		log.Fatalf("cumo failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, st store.Store, pcdPath, screenshotDir string) error {
	logger := log.NewEntry(log.StandardLogger())

	var sess *session.Session
	hub := ws.NewHub(func(f protocol.Frame) { sess.Deliver(f) }, ws.Options{
		Logger:          logger,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
	})
	sess = session.New(hub, session.Options{
		Logger:         logger,
		Store:          st,
		TextFrames:     cfg.Server.TextFrames,
		InboundBuffer:  cfg.Session.InboundBuffer,
		UnclaimedLimit: cfg.Session.UnclaimedLimit,
		ProcessedTTL:   cfg.Session.ProcessedTTL(),
	})
	v := viewer.New(sess, viewer.Options{
		Logger:         logger,
		Store:          st,
		RequestTimeout: cfg.Session.RequestTimeout(),
	})

	wsMux := http.NewServeMux()
	wsMux.HandleFunc(cfg.Server.WebsocketPath, hub.HandleViewer)
	wsServer := &http.Server{Addr: cfg.Server.WebsocketAddr(), Handler: wsMux}
	httpServer := &http.Server{Addr: cfg.Server.HTTPAddr(), Handler: web.NewHandler(web.Options{
		Logger:       logger,
		StaticDir:    cfg.Server.StaticDir,
		WebsocketURL: cfg.Server.WebsocketURL(),
	})}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(wsServer, "websocket") })
	g.Go(func() error { return listen(httpServer, "http") })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close()
		_ = wsServer.Shutdown(shutdownCtx)
		_ = httpServer.Shutdown(shutdownCtx)
		return nil
	})
	g.Go(func() error {
		log.Infof("open: http://%s", cfg.Server.HTTPAddr())
		return runScene(gctx, v, pcdPath, screenshotDir)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, session.ErrClosed) {
		return err
	}
	return nil
}

func listen(srv *http.Server, name string) error {
	log.Infof("%s server listening on %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server failed: %w", name, err)
	}
	return nil
}
