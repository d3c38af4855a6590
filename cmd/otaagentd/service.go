package main

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"

	"github.com/maxabba/Ota-mqtt-http/pkg/flash"
	"github.com/maxabba/Ota-mqtt-http/pkg/hostconfig"
	"github.com/maxabba/Ota-mqtt-http/pkg/httpfetch"
	"github.com/maxabba/Ota-mqtt-http/pkg/monitor"
	"github.com/maxabba/Ota-mqtt-http/pkg/otaagent"
	"github.com/maxabba/Ota-mqtt-http/pkg/transport"
)

// program implements service.Interface the way
// mstrhakr-printmaster/agent/service.go's program does: Start spawns
// run() in a goroutine and returns immediately; Stop cancels a context
// and waits (bounded) for run() to unwind.
type program struct {
	cfg       hostconfig.HostConfig
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	svcLogger service.Logger
	logger    *logrus.Entry
}

func newProgram(cfg hostconfig.HostConfig, logger *logrus.Entry) *program {
	return &program{cfg: cfg, logger: logger}
}

func (p *program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	if p.svcLogger != nil {
		p.svcLogger.Info("otaagentd service starting")
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})
	go p.run()
	return nil
}

func (p *program) run() {
	defer close(p.done)

	if err := runAgent(p.ctx, p.cfg, p.logger); err != nil {
		p.logger.WithError(err).Error("agent run loop exited with error")
	}
}

func (p *program) Stop(s service.Service) error {
	if p.svcLogger != nil {
		p.svcLogger.Info("otaagentd service stop requested")
	}
	if p.cancel != nil {
		p.cancel()
	}
	select {
	case <-p.done:
	case <-time.After(30 * time.Second):
		if p.svcLogger != nil {
			p.svcLogger.Warning("otaagentd service stopped with timeout")
		}
	}
	return nil
}

func serviceConfig() *service.Config {
	var workingDir string
	switch runtime.GOOS {
	case "windows":
		workingDir = os.Getenv("ProgramData") + `\otaagentd`
	case "darwin":
		workingDir = "/Library/Application Support/otaagentd"
	default:
		workingDir = "/var/lib/otaagentd"
	}
	return &service.Config{
		Name:        "otaagentd",
		DisplayName: "OTA Agent Daemon",
		Description: "Streams firmware updates announced over MQTT into a local partition file.",
		WorkingDirectory: workingDir,
	}
}

// runAgent builds the Agent from cfg and drives Step on a ticker until
// ctx is cancelled. This is the host loop spec §2 requires: "the host
// application is required to call step frequently".
func runAgent(ctx context.Context, cfg hostconfig.HostConfig, logger *logrus.Entry) error {
	caCert, err := loadCertFile(cfg.TLS.CACertPath)
	if err != nil {
		return err
	}
	clientCert, err := loadCertFile(cfg.TLS.ClientCertPath)
	if err != nil {
		return err
	}
	clientKey, err := loadCertFile(cfg.TLS.ClientKeyPath)
	if err != nil {
		return err
	}

	pahoTransport := transport.NewPahoTransport(logger)
	cc := otaagent.NewControlChannel(pahoTransport, logger)
	if err := cc.Configure(otaagent.ControlChannelConfig{
		Host:               cfg.MQTT.Host,
		Port:               cfg.MQTT.Port,
		ClientID:           cfg.MQTT.ClientID,
		Username:           cfg.MQTT.Username,
		Password:           cfg.MQTT.Password,
		UseTLS:             cfg.MQTT.UseTLS,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		CACert:             caCert,
		ClientCert:         clientCert,
		ClientKey:          clientKey,
		Topic:              cfg.MQTT.Topic,
		ConnectTimeout:     cfg.OTA.MqttConnectTimeout(),
	}); err != nil {
		return err
	}

	dl := otaagent.NewDownloader(logger)
	reb := newFileRebooter(cfg.OTA.PartitionPath, logger)
	inst := otaagent.NewInstaller(reb, logger)

	agentCfg := otaagent.OtaConfig{
		CheckInterval:      cfg.OTA.CheckInterval(),
		DownloadTimeout:    cfg.OTA.DownloadTimeout(),
		MaxRetries:         cfg.OTA.MaxRetries,
		EnableRollback:     cfg.OTA.EnableRollback,
		VerifyChecksum:     cfg.OTA.VerifyChecksum,
		CurrentVersion:     cfg.OTA.CurrentVersion,
		ChunkSize:          cfg.OTA.ChunkSize,
		YieldInterval:      cfg.OTA.YieldInterval(),
		MqttConnectTimeout: cfg.OTA.MqttConnectTimeout(),
		DownloadTLS: httpfetch.TLSConfig{
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
			CACert:             caCert,
			ClientCert:         clientCert,
			ClientKey:          clientKey,
		},
	}
	if err := agentCfg.Validate(); err != nil {
		return err
	}

	agent := otaagent.NewAgent(agentCfg, cc, dl, inst, func() flash.Sink {
		return flash.NewFileSink(cfg.OTA.PartitionPath)
	}, logger)

	var broadcaster *monitor.Broadcaster
	if cfg.Web.Enabled {
		broadcaster = monitor.NewBroadcaster(logger)
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", broadcaster.HandleWebSocket)
		go http.ListenAndServe(hostAddr(cfg.Web.Port), mux)
	}

	agent.OnStatusUpdate(func(status string, progress int) {
		logger.WithFields(logrus.Fields{"status": status, "progress": progress}).Info("ota status")
		if broadcaster != nil {
			broadcaster.Broadcast(monitor.Event{Type: "status", Status: status, Progress: progress})
		}
	})
	agent.OnError(func(message string, code int) {
		logger.WithFields(logrus.Fields{"code": code}).Warn(message)
		if broadcaster != nil {
			broadcaster.Broadcast(monitor.Event{Type: "error", Message: message, Code: code})
		}
	})

	agent.SetLinkUp(true)
	if err := agent.Start(); err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.OTA.YieldInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			agent.Step(now)
		}
	}
}

func loadCertFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

func hostAddr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}
