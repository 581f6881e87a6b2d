package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/pulse/internal/adapter/driven/advisor/gemini"
	"github.com/Wyydra/pulse/internal/adapter/driven/broker/memory"
	"github.com/Wyydra/pulse/internal/adapter/driven/broker/pion"
	"github.com/Wyydra/pulse/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/pulse/internal/adapter/driven/media/device"
	repo "github.com/Wyydra/pulse/internal/adapter/driven/persistence/memory"
	handler "github.com/Wyydra/pulse/internal/adapter/driving/http"
	"github.com/Wyydra/pulse/internal/config"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/Wyydra/pulse/internal/core/service"
	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const echoPeerID = "echo"

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using system environment variables")
	}
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.Server.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices, err := device.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up media devices")
	}

	broker, cleanup, err := newBroker(ctx, cfg, devices)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up broker")
	}
	defer cleanup()

	var advisor port.Advisor
	if a, err := gemini.New(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model); err != nil {
		log.Warn().Err(err).Msg("Meeting advice disabled")
	} else {
		advisor = a
	}

	hub := ws.NewHub()
	session, err := service.NewSession(service.SessionDeps{
		Broker:  broker,
		Devices: devices,
		Advisor: advisor,
		Repo:    repo.NewMessageRepository(),
		Gateway: hub,
		Clock:   clock.New(),
		Call: service.CallConfig{
			StreamTimeout: cfg.Call.StreamTimeout,
			RetryDelay:    cfg.Call.RetryDelay,
			RetryLimit:    cfg.Call.RetryLimit,
		},
		ReconnectDelay: cfg.Broker.ReconnectDelay,
		InviteBase:     cfg.Server.InviteBase,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up session")
	}

	go hub.Run()
	go session.Run()

	if err := session.Signaling.Register(ctx); err != nil {
		log.Error().Err(err).Msg("Initial broker registration failed")
	}

	h := handler.NewHandler(session, hub, cfg.Server.StaticDir)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h.NewRouter(),
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	session.Shutdown(shutdownCtx)
	hub.Stop()
	log.Info().Msg("Server exited")
}

// newBroker returns the websocket broker, or with BROKER_URL=memory an
// in-process exchange that already holds an echo peer to call.
func newBroker(ctx context.Context, cfg *config.Config, devices *device.Devices) (port.Broker, func(), error) {
	if cfg.Broker.InProcess() {
		x := memory.NewExchange()
		echo, err := x.AddEchoPeer(ctx, echoPeerID)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("peer_id", echo.ID().String()).Msg("In-process broker ready, echo peer online")
		return x.NewBroker(""), func() { echo.Close() }, nil
	}

	b, err := pion.NewBroker(pion.Config{
		URL:            cfg.Broker.URL,
		ICEServers:     cfg.Broker.ICEServers(),
		ReconnectDelay: cfg.Broker.ReconnectDelay,
		Codecs:         devices.RegisterCodecs,
	})
	if err != nil {
		return nil, nil, err
	}
	return b, func() {}, nil
}
