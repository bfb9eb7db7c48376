package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/danmuck/exchange/internal/config"
	"github.com/danmuck/exchange/internal/logging"
	"github.com/danmuck/exchange/internal/protocol/session"
	"github.com/danmuck/exchange/internal/schemes"
	"github.com/danmuck/exchange/internal/schemes/authenticate"
	"github.com/danmuck/exchange/internal/schemes/submit"
	"github.com/danmuck/exchange/internal/server"
	"github.com/rs/zerolog"
)

func main() {
	path := flag.String("config", "cmd/exchangectl/config.toml", "node config path")
	mode := flag.String("mode", "", "override config mode: listener|client")
	job := flag.String("job", "", "override the submitted job (client mode)")
	flag.Parse()

	logging.ConfigureRuntime()
	logger := logging.Component("exchangectl")

	cfg, err := loadNodeConfig(*path)
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	if *mode != "" {
		cfg.Mode = *mode
		if err := config.ValidateNodeConfig(cfg); err != nil {
			logger.Fatal().Err(err).Msg("config")
		}
	}
	if *job != "" {
		cfg.Client.Job = *job
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Mode {
	case config.ModeListener:
		err = runListener(ctx, cfg, logger)
	case config.ModeClient:
		err = runClient(ctx, cfg, logger)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("mode", cfg.Mode).Msg("exchangectl")
	}
}

func runListener(ctx context.Context, cfg config.NodeConfig, logger zerolog.Logger) error {
	p, reg, err := schemes.NewPool()
	if err != nil {
		return err
	}
	svcCfg, err := cfg.ServiceConfig()
	if err != nil {
		return err
	}
	jobs, err := cfg.Jobs()
	if err != nil {
		return err
	}
	svcCfg.Jobs = jobs
	var gate *authenticate.Gate
	if cfg.SubmitRequiresAuth {
		gate = authenticate.NewGate()
		svcCfg.OnDisconnect = gate.Forget
	}
	template, err := schemes.NewListenerManager(p, reg, cfg.Name, schemes.ListenerOptions{
		Timeout:  svcCfg.SessionTimeout,
		Verifier: cfg.Verifier(),
		Gate:     gate,
		Store: func(source string, job []byte) error {
			key, err := jobs.Put(source, job)
			if err != nil {
				return err
			}
			logger.Info().Str("source", source).Str("key", key).Int("bytes", len(job)).Msg("job stored")
			return nil
		},
	}, logger)
	if err != nil {
		return err
	}
	template.OnTimeout(func(ev session.HookEvent) {
		logger.Warn().Str("manager", ev.Manager.Name()).Str("protocol", ev.Protocol.Name).Msg("exchange timed out")
	})
	return server.NewService(svcCfg, template, logger).Run(ctx)
}

func runClient(ctx context.Context, cfg config.NodeConfig, logger zerolog.Logger) error {
	p, _, err := schemes.NewPool()
	if err != nil {
		return err
	}
	timeout, err := cfg.Timeout()
	if err != nil {
		return err
	}
	manager, err := schemes.NewClientManager(p, cfg.Name, schemes.ClientOptions{
		Timeout:  timeout,
		Job:      []byte(cfg.Client.Job),
		Username: cfg.Client.Username,
		Password: []byte(cfg.Client.Password),
	}, logger)
	if err != nil {
		return err
	}
	c, err := server.Connect(ctx, cfg.ClientConfig(), manager, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	for _, id := range []uint16{authenticate.ID, submit.ID} {
		res, err := c.Exchange(ctx, id)
		if err != nil {
			return err
		}
		proto, _ := p.Protocol(id)
		if res.Err != nil {
			logger.Error().Str("protocol", proto.Name).Err(res.Err).Msg("exchange failed")
			return res.Err
		}
		logger.Info().Str("protocol", proto.Name).Msg("exchange complete")
	}
	return nil
}
