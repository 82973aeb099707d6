package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/config"
	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/handlers"
	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/logging"
	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/model"
	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/predict"
	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/reports"
	"github.com/fafawds67685da/Brain-tumor-segmentaion/internal/server"
)

// version of the code, set at build time
var version = "1.0.0"

func info() string {
	return fmt.Sprintf("segmentation-server version=%s go=%s", version, runtime.Version())
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "configuration file")
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "print version information about the server")
	flag.Parse()
	if showVersion {
		fmt.Println(info())
		os.Exit(0)
	}

	if err := run(configFile); err != nil {
		log.Errorf("[Main] %v", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("unable to load config %q: %w", configFile, err)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("unable to set up logging: %w", err)
	}
	defer logCloser.Close()
	if cfg.Verbose > 0 {
		logger.SetLevel(log.DebugLevel)
		logger.SetReportCaller(cfg.Verbose > 1)
		logger.Debugf("[Main] Configuration: %+v", cfg)
	}
	entry := log.NewEntry(logger)

	entry.WithField("model", cfg.ModelPath).Info("[Main] Loading model")
	modelServer := model.Load(model.Options{
		ModelPath:    cfg.ModelPath,
		MetadataPath: cfg.MetadataPath,
		LibraryPath:  cfg.ONNXLibrary,
	}, entry.WithField("component", "model"))
	defer modelServer.Close()

	service := predict.NewService(modelServer, entry.WithField("component", "predict"))
	handler := handlers.NewHandler(service, modelServer, reports.New(cfg.StatsDir), handlers.Options{
		Version:      version,
		MaxFileBytes: cfg.MaxUploadBytes(),
	}, entry.WithField("component", "handlers"))

	router, err := server.NewRouter(server.RouterOptions{
		Rate:        cfg.Rate,
		CORSOrigins: cfg.CORSOrigins,
		// a full batch plus multipart framing
		BodyLimit: cfg.MaxUploadBytes()*predict.MaxBatchSize + 1<<20,
	}, entry.WithField("component", "http"), handler.Register)
	if err != nil {
		return err
	}

	entry.WithFields(log.Fields{
		"port":         cfg.Port,
		"model_loaded": modelServer.Ready(),
		"stats_dir":    cfg.StatsDir,
	}).Info("[Main] Endpoints: GET / /health /model-info /reports /stats, POST /predict /batch-predict")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx, server.Config{
		Addr:        cfg.Addr(),
		ServerCrt:   cfg.ServerCrt,
		ServerKey:   cfg.ServerKey,
		DomainNames: cfg.DomainNames,
	}, router, entry.WithField("component", "server"))
}
