package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/Alia5/kbdfw/internal/config"
	"github.com/Alia5/kbdfw/internal/configpaths"
	"github.com/Alia5/kbdfw/internal/log"
)

func main() {
	userCfg := findUserConfig(os.Args[1:])
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths(userCfg)

	var cli config.CLI
	ctx := kong.Parse(&cli,
		kong.Name("kbdfw"),
		kong.Description("Keyboard firmware engine exported over USB/IP"),
		kong.UsageOnError(),
		// Flags and env override config file values.
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, closeFiles, err := log.SetupLogger(cli.Log.Level, cli.Log.File)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() {
		for _, c := range closeFiles {
			_ = c.Close()
		}
	}()

	rawLogger, rawFile := openRawLogger(cli.Log, logger)
	if rawFile != nil {
		closeFiles = append(closeFiles, rawFile)
	}

	ctx.Bind(logger)
	ctx.BindTo(rawLogger, (*log.RawLogger)(nil))

	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}

// openRawLogger picks the USB traffic sink: the raw file when set, stdout
// at trace level, nothing otherwise.
func openRawLogger(cfg config.Log, logger *slog.Logger) (log.RawLogger, io.Closer) {
	if cfg.RawFile != "" {
		f, err := os.OpenFile(cfg.RawFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Error("failed to open raw log file", "file", cfg.RawFile, "error", err)
			return log.NewRaw(nil), nil
		}
		return log.NewRaw(f), f
	}
	if log.ParseLevel(cfg.Level) <= log.LevelTrace {
		return log.NewRaw(os.Stdout), nil
	}
	return log.NewRaw(nil), nil
}

// findUserConfig looks for --config ahead of kong so the file can feed
// the configuration loaders.
func findUserConfig(args []string) string {
	for i, a := range args {
		switch {
		case strings.HasPrefix(a, "--config="):
			return a[len("--config="):]
		case a == "--config" && i+1 < len(args):
			return args[i+1]
		}
	}
	return os.Getenv("KBDFW_CONFIG")
}
