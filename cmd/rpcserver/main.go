package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	"github.com/pkg/errors"

	"stream-rpc/conf"
	"stream-rpc/handler"
	log "stream-rpc/logger"
	"stream-rpc/server"
)

type arguments struct {
	Config kong.ConfigFlag   `help:"Path to config file" type:"existingfile"`
	Server conf.ServerConfig `help:"Server configuration" embed:"" prefix:""`
	Log    log.Config        `help:"Configuration for the logger" embed:"" prefix:"log-"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	reg := handler.NewRegistry()
	if err := registerDemoHandlers(reg); err != nil {
		return err
	}
	s := server.NewServer(cfg.Server, reg)
	if err := s.Start(); err != nil {
		return err
	}
	log.Infof("registered handlers: %s", strings.Join(reg.Names(), ", "))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Warnf("signal: %s received. stream-rpc server will be closed", sig.String())
	// hard stop if shutdown hangs
	tz := time.AfterFunc(cfg.Server.ShutdownTimeout+5*time.Second, func() {
		log.Warnf("server shutdown did not complete in time. system will exit.")
		os.Exit(1)
	})
	defer tz.Stop()
	if err := s.Stop(); err != nil {
		log.Warnf("failure in stopping stream-rpc server: %v", err)
	}
	_ = log.Named("").Sync()
	return nil
}

func loadConfig(args []string) (*arguments, error) {
	// Empty args make the parser fail with a non-descriptive error
	var cleaned []string
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg != "" {
			cleaned = append(cleaned, arg)
		}
	}
	cfg := &arguments{}
	parser, err := kong.New(cfg, kong.Configuration(konghcl.Loader))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := parser.Parse(cleaned); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := cfg.Log.Configure(); err != nil {
		return nil, errors.WithStack(err)
	}
	cfg.Server.ApplyDefaults()
	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
