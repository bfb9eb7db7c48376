package main

import (
	"flag"

	"github.com/danmuck/exchange/internal/config"
	"github.com/danmuck/exchange/internal/observability"
)

func main() {
	logger := observability.InitLogger("configgen")

	kind := flag.String("kind", config.ModeListener, "config kind: listener|client")
	output := flag.String("output", "cmd/exchangectl/config.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/exchangectl/config.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.LoadNodeConfig(*input)
		if err != nil {
			logger.Fatal().Err(err).Msg("validate")
		}
		logger.Info().Str("path", *input).Str("mode", cfg.Mode).Msg("validated config")
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		logger.Fatal().Err(err).Msg("write template")
	}
	logger.Info().Str("kind", *kind).Str("path", *output).Msg("wrote config template")
}
