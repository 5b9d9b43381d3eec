// Command ap runs the Application Processor core: it loads provisioning
// config, wires the roster, message transport, operator authenticator, and
// protocol engine together, and runs the command dispatcher until signaled
// to stop. Startup takes a flag-based config path, logs to a file via
// logrus, shuts down gracefully on context cancellation or signal, and
// runs a background retention-cleanup ticker.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/devanshusanghani/2024-MTU-eCTF/internal/auditlog"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/auth"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/board"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/bus"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/config"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/console"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/dispatcher"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/flashdev"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/message"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/protocol"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/rng"
	"github.com/devanshusanghani/2024-MTU-eCTF/internal/roster"
)

// Version is the build's major.minor.patch identifier.
var Version = "1.0.0"

const (
	pollInterval = 20 * time.Millisecond
	pollAttempts = 50
)

func main() {
	configPath := flag.String("config", "ap.yaml", "Path to provisioning config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	os.MkdirAll(cfg.Logs.Path, 0o755)
	logFile, err := os.OpenFile(cfg.Logs.Path+"/ap.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		log.SetOutput(logFile)
	}

	log.Infof("Starting Application Processor v%s", Version)
	log.Infof("  Roster size: %d", len(cfg.Roster.ComponentIDs))
	log.Infof("  Flash path: %s", cfg.Bus.FlashPath)
	log.Infof("  Log path: %s", cfg.Logs.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	aesKey, err := hex.DecodeString(cfg.Crypto.AESKeyHex)
	if err != nil {
		log.Fatalf("Invalid aes_key_hex: %v", err)
	}
	hashKey, err := hex.DecodeString(cfg.Crypto.HashKeyHex)
	if err != nil {
		log.Fatalf("Invalid hash_key_hex: %v", err)
	}

	source := rng.Crypto{}

	dev, err := flashdev.OpenFile(cfg.Bus.FlashPath)
	if err != nil {
		log.Fatalf("Failed to open flash device: %v", err)
	}

	r, err := roster.New(dev, source, aesKey, hashKey, roster.Defaults{
		Magic:        cfg.Roster.Magic,
		ComponentIDs: cfg.Roster.ComponentIDs,
	})
	if err != nil {
		log.Fatalf("Failed to construct roster: %v", err)
	}
	if err := r.Load(); err != nil {
		log.Fatalf("Failed to load roster: %v", err)
	}

	i2c := bus.NewHardwareBus()
	transport := message.New(i2c, source, pollInterval, pollAttempts)
	con := console.New(os.Stdin, os.Stdout)

	engine := protocol.New(transport, r, addressOf, con)
	authenticator := auth.New(cfg.Auth.PIN, cfg.Auth.Token, source, board.RealTime{}, board.NewGPIOIndicator())

	auditWriter := auditlog.NewWriter(cfg.Logs.Path, cfg.Logs.RetentionDays)
	defer auditWriter.Close()

	session := time.Now().Format("20060102-150405")

	d := &dispatcher.Dispatcher{
		Console: con,
		Auth:    authenticator,
		Roster:  r,
		Engine:  engine,
		Audit:   auditWriter,
		Session: session,
	}

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				auditWriter.Cleanup()
			}
		}
	}()

	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Dispatcher error: %v", err)
	}
}

// addressOf maps a provisioned component ID to its bus address. The real
// target wires this to board-specific address assignment; lacking that
// board definition, the low byte of the ID is used directly, which keeps the
// mapping stable and collision-free for the IDs a provisioning run assigns.
func addressOf(id uint32) byte {
	return byte(id)
}
