package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/agroflow/irrigation-controller/internal/config"
	"github.com/agroflow/irrigation-controller/internal/eventlog"
	"github.com/agroflow/irrigation-controller/internal/observability"
	"github.com/agroflow/irrigation-controller/internal/repository"
	"github.com/agroflow/irrigation-controller/internal/services/controller"
	"github.com/agroflow/irrigation-controller/pkg/logger"
	"github.com/agroflow/irrigation-controller/pkg/rabbitmq"
)

func main() {
	cfg := config.LoadController()

	zlog, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, "irrigation-controller")
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Device state
	repo, err := repository.NewSQLiteDeviceStateRepository(cfg.StateDBPath)
	if err != nil {
		zlog.Fatal("state db init failed", zap.String("path", cfg.StateDBPath), zap.Error(err))
	}
	defer func() { _ = repo.Close() }()

	// Audit event log
	var elog eventlog.Log
	if cfg.Influx.Token != "" {
		il := eventlog.NewInfluxLog(cfg.Influx, 10, 200*time.Millisecond, zlog.Named("eventlog"))
		defer il.Close()
		elog = il
	} else {
		zlog.Warn("INFLUX_TOKEN not set, audit events will be discarded")
		elog = eventlog.Nop{}
	}

	// MQTT
	mqCfg := &rabbitmq.RabbitMQConfig{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		User:     cfg.MQTT.User,
		Password: cfg.MQTT.Password,
		ClientID: cfg.MQTT.ClientID,
	}
	mqClient, err := rabbitmq.NewRabbitMQConn(ctx, mqCfg)
	if err != nil {
		zlog.Fatal("mqtt connect failed", zap.Error(err))
	}
	defer rabbitmq.CloseRabbitMQConn(mqClient)

	metrics := observability.NewMetrics()

	// Relay egress
	router, err := controller.NewRelayRouter(cfg.RelayTopicMap, cfg.RelayTopicTemplate)
	if err != nil {
		zlog.Fatal("relay router init failed", zap.Error(err))
	}
	publisher := rabbitmq.NewPublisher(mqClient, "")
	actuator := controller.NewMQTTActuator(publisher, router,
		cfg.RelayPublishRetries, cfg.RelayPublishRetryDelay, metrics, zlog.Named("actuator"))

	// Crop profiles
	crops, err := controller.NewCropResolver(cfg.CropProfileFile, cfg.DefaultCrop)
	if err != nil {
		zlog.Warn("crop profile file unusable, using built-ins", zap.Error(err))
		crops = controller.NewBuiltinCropResolver(cfg.DefaultCrop)
	}

	// Weather
	var weather controller.WeatherClient
	if cfg.OWMAPIKey != "" {
		weather = controller.NewOWMClient(cfg.OWMAPIKey, cfg.OWMBaseURL,
			cfg.WeatherCacheTTL, metrics, zlog.Named("weather"))
	} else {
		zlog.Warn("OWM_API_KEY not set, thresholds run without forecast")
	}

	liveness := controller.NewLiveness(cfg.StaleAfter)

	telemetryConsumer := rabbitmq.NewConsumer(mqClient, cfg.TelemetryTopic, nil)

	ctrl, err := controller.NewController(controller.Params{
		Consumer:              telemetryConsumer,
		Publisher:             publisher,
		Actuator:              actuator,
		Repo:                  repo,
		EventLog:              elog,
		Weather:               weather,
		Crops:                 crops,
		Liveness:              liveness,
		Metrics:               metrics,
		Logger:                zlog.Named("controller"),
		Gates:                 cfg.Gates,
		DecisionTopicTemplate: cfg.DecisionEventTopicTemplate,
		DefaultCrop:           cfg.DefaultCrop,
	})
	if err != nil {
		zlog.Fatal("controller init failed", zap.Error(err))
	}

	// Device-reported relay transitions feed the same audit trail.
	ctrl.AttachStateChangeConsumer(rabbitmq.NewConsumer(mqClient, "event/stateChange/#", nil))

	ctrl.Start(ctx)

	sweeper := controller.NewWatchdogSweeper(ctrl, cfg.WatchdogSweepInterval, zlog.Named("watchdog"))
	go sweeper.Run(ctx)

	// Operator API
	api := controller.NewAPI(controller.APIParams{
		Controller:    ctrl,
		Repo:          repo,
		EventLog:      elog,
		Liveness:      liveness,
		Weather:       weather,
		Crops:         crops,
		Metrics:       metrics,
		Logger:        zlog.Named("api"),
		MQTTConnected: mqClient.IsConnected,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.CombinedLoggingHandler(os.Stdout, api.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zlog.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("http server failed", zap.Error(err))
		}
	}()

	zlog.Info("irrigation controller running",
		zap.String("telemetry_topic", cfg.TelemetryTopic),
		zap.String("relay_topic_map", cfg.RelayTopicMap),
		zap.String("state_db", cfg.StateDBPath))

	// graceful shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	zlog.Info("shutting down")
	cancel()

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = httpSrv.Shutdown(shCtx)
}
