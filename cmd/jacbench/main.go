// Command jacbench starts the benchmark harness server: it accepts run
// submissions over HTTP, drives them against the configured model
// provider and serves artifacts, evaluations and live progress events.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/jaseci-llmdocs/jacbench/clock"
	"github.com/jaseci-llmdocs/jacbench/cmd/jacbench/config"
	"github.com/jaseci-llmdocs/jacbench/cmd/jacbench/restapi"
	"github.com/jaseci-llmdocs/jacbench/cmd/jacbench/version"
	"github.com/jaseci-llmdocs/jacbench/cmd/jacbench/wsapi"
	"github.com/jaseci-llmdocs/jacbench/collection"
	"github.com/jaseci-llmdocs/jacbench/coordinator"
	"github.com/jaseci-llmdocs/jacbench/evaluator"
	"github.com/jaseci-llmdocs/jacbench/eventbus"
	"github.com/jaseci-llmdocs/jacbench/executor"
	"github.com/jaseci-llmdocs/jacbench/jaccheck"
	"github.com/jaseci-llmdocs/jacbench/openrouter"
	"github.com/jaseci-llmdocs/jacbench/queuemgr"
	"github.com/jaseci-llmdocs/jacbench/scorer"
	"github.com/jaseci-llmdocs/jacbench/store"
	"github.com/jaseci-llmdocs/jacbench/suite"
	"github.com/jaseci-llmdocs/jacbench/variant"
)

var logger *zap.Logger

func main() {
	conf := loadConf()
	if conf.Version {
		fmt.Println(version.Version)
		return
	}
	initLogger(conf)
	defer logger.Sync()
	if ce := logger.Check(zap.InfoLevel, "Config loaded"); ce != nil {
		ce.Write(zap.String("config", fmt.Sprintf("%+v", conf)))
	}

	s, err := suite.Load("default", conf.SuitePath)
	if err != nil {
		logger.Fatal("load suite failed", zap.Error(err))
	}
	logger.Info("Suite loaded",
		zap.String("path", conf.SuitePath),
		zap.Int("tests", s.Len()),
		zap.Int("totalPoints", s.TotalPoints()))

	variants, err := variant.NewCatalog(conf.VariantDir, logger)
	if err != nil {
		logger.Fatal("load variants failed", zap.Error(err))
	}

	st := newStore(conf)
	bus := eventbus.New(conf.EventRingSize, conf.EventQueueSize)
	clk := clock.Real{}

	checker, err := jaccheck.New(conf.CheckCommand, conf.CheckTimeout, logger)
	if err != nil {
		logger.Fatal("init syntax checker failed", zap.Error(err))
	}
	sc := scorer.New(scorer.Config{
		ForbiddenFraction: conf.ForbiddenFraction,
		SyntaxFraction:    conf.SyntaxFraction,
		CompileFraction:   conf.CompileFraction,
	}, checker)

	client := newModelClient(conf)
	exec := executor.New(client, bus, logger, executor.Config{
		BatchTimeout: conf.BatchTimeout,
		MaxRetries:   conf.MaxRetries,
	})

	evals := evaluator.New(sc, st, bus, s, clk, logger, evaluator.Config{
		Concurrency: conf.EvalConcurrency,
	})
	if err := evals.Start(); err != nil {
		logger.Fatal("start evaluator failed", zap.Error(err))
	}

	mgr := queuemgr.New(s, variants, exec, st, bus, clk, evals, logger, queuemgr.Config{
		RunConcurrency: conf.RunConcurrency,
		Coordinator: coordinator.Config{
			BatchConcurrency: conf.BatchConcurrency,
			RunTimeout:       conf.RunTimeout,
			MaxRetries:       conf.MaxRetries,
		},
	})
	logger.Info("Queue manager started",
		zap.Int("runConcurrency", conf.RunConcurrency),
		zap.Int("batchConcurrency", conf.BatchConcurrency),
		zap.Int("evalConcurrency", conf.EvalConcurrency))

	servers := []initFunc{
		cleanUpManager(mgr),
		cleanUpEvaluator(evals),
		cleanUpBus(bus),
		initHTTPServer(conf, mgr, evals, st, variants, s, bus),
		initMonitorHTTPServer(conf),
	}

	// Gracefully shutdown, with signal / HTTP server / monitor server
	sig := make(chan os.Signal, 1+len(servers))

	stops := []stopFunc{}
	for _, f := range servers {
		start, stop := f()
		if start != nil {
			go func() {
				start()
				sig <- os.Interrupt
			}()
		}
		if stop != nil {
			stops = append(stops, stop)
		}
	}

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	signal.Reset(syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Shutting Down...")

	ctx, cancel := context.WithTimeout(context.TODO(), time.Second*5)
	defer cancel()

	var eg errgroup.Group
	for _, s := range stops {
		s := s
		eg.Go(func() error {
			return s(ctx)
		})
	}

	go func() {
		logger.Info("Shutdown Finished", zap.Error(eg.Wait()))
		cancel()
	}()
	<-ctx.Done()
}

func loadConf() *config.Config {
	var conf config.Config
	if err := conf.Load(); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalln("load config failed ", err)
	}
	return &conf
}

type (
	stopFunc func(ctx context.Context) error
	initFunc func() (start func(), cleanUp stopFunc)
)

func cleanUpManager(mgr *queuemgr.Manager) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		return nil, func(ctx context.Context) error {
			err := mgr.Shutdown(ctx)
			logger.Info("Queue manager shutdown", zap.Error(err))
			return err
		}
	}
}

func cleanUpEvaluator(evals *evaluator.Evaluator) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		return nil, func(ctx context.Context) error {
			evals.Close()
			logger.Info("Evaluator shutdown")
			return nil
		}
	}
}

func cleanUpBus(bus *eventbus.Bus) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		return nil, func(ctx context.Context) error {
			bus.Close()
			logger.Info("Event bus closed")
			return nil
		}
	}
}

func initHTTPServer(conf *config.Config, mgr *queuemgr.Manager, evals *evaluator.Evaluator,
	st store.Store, variants *variant.Catalog, s *suite.Suite, bus *eventbus.Bus) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		r := initHTTPMux(conf, mgr, evals, st, variants, s, bus)
		srv := http.Server{
			Addr:    conf.HTTPAddr,
			Handler: r,
		}

		return func() {
				logger.Info("Starting http server", zap.String("addr", conf.HTTPAddr))
				if err := srv.ListenAndServe(); errors.Is(err, http.ErrServerClosed) {
					logger.Info("Http server stopped", zap.Error(err))
				} else {
					logger.Error("Http server stopped", zap.Error(err))
				}
			}, func(ctx context.Context) error {
				logger.Info("Http server shutting down")
				return srv.Shutdown(ctx)
			}
	}
}

func initMonitorHTTPServer(conf *config.Config) initFunc {
	return func() (start func(), cleanUp stopFunc) {
		mr := initMonitorHTTPMux(conf)
		if mr == nil {
			return nil, nil
		}
		msrv := http.Server{
			Addr:    conf.MonitorAddr,
			Handler: mr,
		}
		return func() {
				logger.Info("Starting monitoring http server", zap.String("addr", conf.MonitorAddr))
				logger.Info("Monitoring http server stopped", zap.Error(msrv.ListenAndServe()))
			}, func(ctx context.Context) error {
				logger.Info("Monitoring http server shutdown")
				return msrv.Shutdown(ctx)
			}
	}
}

func initLogger(conf *config.Config) {
	if conf.Silent {
		logger = zap.NewNop()
		return
	}

	var err error
	if conf.Release {
		logger, err = zap.NewProduction()
	} else {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if !conf.EnableDebugLog {
			config.Level.SetLevel(zap.InfoLevel)
		}
		logger, err = config.Build()
	}
	if err != nil {
		log.Fatalln("init logger failed ", err)
	}
}

func newStore(conf *config.Config) store.Store {
	var st store.Store
	if conf.Dir == "" {
		logger.Info("Using in-memory artifact store")
		st = store.NewMemoryStore()
	} else {
		var err error
		st, err = store.NewLocalStore(conf.Dir)
		if err != nil {
			logger.Fatal("init artifact store failed", zap.Error(err))
		}
		logger.Info("Using local artifact store", zap.String("dir", conf.Dir))
	}
	if conf.EnableMetrics {
		st = newMetricsStore(st)
	}
	return st
}

func newModelClient(conf *config.Config) executor.ModelClient {
	if conf.APIKey == "" {
		logger.Warn("No API key configured, model calls will be rejected by the provider")
	}
	var client executor.ModelClient = openrouter.New(openrouter.Config{
		BaseURL:     conf.BaseURL,
		APIKey:      conf.APIKey,
		HTTPTimeout: conf.HTTPTimeout,
	}, logger)
	if conf.EnableMetrics {
		client = newMetricsModelClient(client)
	}
	return client
}

func initHTTPMux(conf *config.Config, mgr *queuemgr.Manager, evals *evaluator.Evaluator,
	st store.Store, variants *variant.Catalog, s *suite.Suite, bus *eventbus.Bus) http.Handler {
	var r *gin.Engine
	if conf.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	r = gin.New()
	r.Use(ginzap.Ginzap(logger, "", false))
	r.Use(ginzap.RecoveryWithZap(logger, true))

	// Metrics Handle
	if conf.EnableMetrics {
		initGinMetrics(r)
	}

	// Version handle
	r.GET("/version", handleVersion)

	// Config handle
	r.GET("/config", generateHandleConfig(conf))

	// Add auth token
	if conf.AuthToken != "" {
		r.Use(tokenAuth(conf.AuthToken))
		logger.Info("Attach token auth")
	}

	// Rest Handle
	restapi.New(mgr, evals, st, collection.New(st, logger), variants, s, logger).Register(r)

	// WebSocket Handle
	wsapi.New(bus, logger).Register(r)

	return r
}

func initMonitorHTTPMux(conf *config.Config) http.Handler {
	if !conf.EnableMetrics && !conf.EnableDebug {
		return nil
	}
	mux := http.NewServeMux()
	if conf.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if conf.EnableDebug {
		initDebugRoute(mux)
	}
	return mux
}

func initDebugRoute(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func initGinMetrics(r *gin.Engine) {
	p := ginprometheus.NewWithConfig(ginprometheus.Config{
		Subsystem:          "gin",
		DisableBodyReading: true,
	})
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		return c.FullPath()
	}
	r.Use(p.HandlerFunc())
}

func tokenAuth(token string) gin.HandlerFunc {
	const bearer = "Bearer "
	return func(c *gin.Context) {
		reqToken := c.GetHeader("Authorization")
		if strings.HasPrefix(reqToken, bearer) && reqToken[len(bearer):] == token {
			c.Next()
			return
		}
		c.AbortWithStatus(http.StatusUnauthorized)
	}
}

func handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"buildVersion": version.Version,
		"goVersion":    runtime.Version(),
		"platform":     runtime.GOARCH,
		"os":           runtime.GOOS,
	})
}

func generateHandleConfig(conf *config.Config) func(*gin.Context) {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"suitePath":        conf.SuitePath,
			"variantDir":       conf.VariantDir,
			"storeDir":         conf.Dir,
			"batchConcurrency": conf.BatchConcurrency,
			"runConcurrency":   conf.RunConcurrency,
			"evalConcurrency":  conf.EvalConcurrency,
			"batchTimeout":     conf.BatchTimeout.String(),
			"runTimeout":       conf.RunTimeout.String(),
			"maxRetries":       conf.MaxRetries,
			"checkCommand":     conf.CheckCommand,
		})
	}
}
