package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetup(t *testing.T) {
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	Setup("debug", "json")
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %s", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("expected JSON formatter")
	}

	Setup("nonsense", "text")
	if logrus.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected info fallback, got %s", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.TextFormatter); !ok {
		t.Errorf("expected text formatter")
	}
}

func TestComponent(t *testing.T) {
	entry := Component("saga")
	if entry.Data["component"] != "saga" {
		t.Errorf("unexpected fields: %v", entry.Data)
	}
}
