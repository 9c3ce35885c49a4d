package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger. Unknown levels fall back to info.
func Setup(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stdout)

	if strings.EqualFold(format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Component returns a logger tagged with the component name.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
