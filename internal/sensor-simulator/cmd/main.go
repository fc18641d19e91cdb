package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/agroflow/irrigation-controller/internal/config"
	sensor_simulator "github.com/agroflow/irrigation-controller/internal/sensor-simulator"
	"github.com/agroflow/irrigation-controller/pkg/logger"
	"github.com/agroflow/irrigation-controller/pkg/rabbitmq"
)

func main() {
	cfg, err := config.LoadSimulator()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zlog, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, "sensor-simulator")
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Each device listens on its own concrete command topic.
	relayTopics := make([]string, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		relayTopics = append(relayTopics,
			strings.NewReplacer("{device}", d.DeviceID).Replace(cfg.RelayTopicTemplate))
	}

	consumer := rabbitmq.NewMultiConsumer(mqClient, relayTopics, nil)
	publisher := rabbitmq.NewPublisher(mqClient, "")

	sim := sensor_simulator.New(cfg, relayTopics, consumer, publisher, zlog.Named("simulator"))

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
		<-sigc
		zlog.Info("shutting down")
		cancel()
	}()

	zlog.Info("sensor simulator running",
		zap.Int("devices", len(cfg.Devices)),
		zap.Duration("interval", cfg.Interval),
		zap.Strings("relay_topics", relayTopics))
	sim.Start(ctx)
}
