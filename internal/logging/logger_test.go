package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/crates-hub/crates-hub/internal/config"
)

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := InitLogger(config.GlobalConfig{LogLevel: "verbose"})
	if err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestInitLoggerWritesToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "server.log")
	logger, err := InitLogger(config.GlobalConfig{
		LogLevel:    "debug",
		LogFilePath: logPath,
		LogMaxSize:  1,
	})
	if err != nil {
		t.Fatalf("init error: %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("unexpected level: %v", logger.GetLevel())
	}

	logger.WithFields(BaseFields("test", "config.toml")).Info("hello")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("log file is empty")
	}
}

func TestCrateFields(t *testing.T) {
	fields := CrateFields("publish", "test_lib", "0.2.0")
	if fields["action"] != "publish" || fields["crate"] != "test_lib" || fields["version"] != "0.2.0" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}
