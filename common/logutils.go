package common

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	serviceName     = "workshop-board"
	serviceInstance = ""
)

func init() {
	logger := logrus.StandardLogger()
	logger.Out = os.Stdout
	logger.Formatter = &logrus.TextFormatter{}
	logger.AddHook(&DefaultFieldsHook{})

	if host, err := os.Hostname(); err == nil {
		serviceInstance = host
	}
}

// ConfigureLogging switches formatter ("json" or "text") and level of the standard logger.
func ConfigureLogging(name, format, level string) {
	if name != "" {
		serviceName = name
	}
	logger := logrus.StandardLogger()
	if strings.EqualFold(format, "json") {
		logger.Formatter = &logrus.JSONFormatter{}
	} else {
		logger.Formatter = &logrus.TextFormatter{}
	}
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else if level != "" {
		logrus.Warnf("unknown log level '%s', keep %s", level, logger.GetLevel())
	}
}

func GetServiceName() string {
	return serviceName
}

func GetServiceInstance() string {
	return serviceInstance
}

type DefaultFieldsHook struct {
}

func (hook *DefaultFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (hook *DefaultFieldsHook) Fire(e *logrus.Entry) error {
	e.Data["serviceName"] = GetServiceName()
	e.Data["serviceInstance"] = GetServiceInstance()
	return nil
}
