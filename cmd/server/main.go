package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/meetkit/meetkit-server/pkg/config"
	"github.com/meetkit/meetkit-server/pkg/logger"
	"github.com/meetkit/meetkit-server/pkg/media/medialocal"
	"github.com/meetkit/meetkit-server/pkg/service"
	"github.com/meetkit/meetkit-server/pkg/telemetry/prometheus"
	"github.com/meetkit/meetkit-server/pkg/utils"
	"github.com/meetkit/meetkit-server/version"
)

const (
	meetingCacheSize = 1024
	meetingCacheTTL  = time.Minute
)

var baseFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "bind",
		Usage: "IP address to listen on, use flag multiple times to specify multiple addresses",
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to meetkit config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "meetkit config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"MEETKIT_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "redis-host",
		Usage:   "host (incl. port) to redis server",
		EnvVars: []string{"REDIS_HOST"},
	},
	&cli.StringFlag{
		Name:    "redis-password",
		Usage:   "password to redis",
		EnvVars: []string{"REDIS_PASSWORD"},
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug, console formatter, and a permissive meeting store. insecure for production",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	app := &cli.App{
		Name:        "meetkit-server",
		Usage:       "Room coordinator for a mediasoup-style SFU",
		Description: "run without subcommands to start the server",
		Flags:       baseFlags,
		Action:      startServer,
		Version:     version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := getConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	strictMode := true
	if c.Bool("disable-strict-config") {
		strictMode = false
	}

	conf, err := config.NewConfig(confString, strictMode, c)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(conf.Logging)

	if conf.Development {
		logger.Infow("starting in development mode")
	}
	return conf, nil
}

func startServer(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	nodeID := utils.NewGuid(utils.NodePrefix)
	prometheus.Init(nodeID)

	if conf.Media.Engine != config.EngineLocal {
		return fmt.Errorf("unknown media engine: %s", conf.Media.Engine)
	}
	engine := medialocal.New()
	pool, err := service.NewWorkerPool(context.Background(), engine, conf.Media)
	if err != nil {
		return err
	}

	var meetingStore service.MeetingStore
	switch {
	case conf.Redis.IsConfigured():
		rc := service.NewRedisClient(&conf.Redis)
		meetingStore = service.NewCachedMeetingStore(
			service.NewRedisMeetingStore(rc), meetingCacheSize, meetingCacheTTL)
	case conf.Development:
		meetingStore = service.PermissiveMeetingStore{}
	default:
		meetingStore = service.NewLocalMeetingStore()
	}

	notifier := service.NewWSNotifier()
	roomManager := service.NewRoomManager(conf, meetingStore, pool, notifier)
	signalService := service.NewSignalService(roomManager)
	server := service.NewMeetkitServer(conf, signalService, notifier, roomManager, pool)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		logger.Infow("exit requested, shutting down", "signal", sig)
		server.Stop()
	}()

	return server.Start()
}

func getConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	outConfigBody, err := os.ReadFile(configFile)
	if err != nil {
		return "", err
	}

	return string(outConfigBody), nil
}
