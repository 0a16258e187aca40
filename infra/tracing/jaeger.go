package tracing

import (
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// InitGlobalTracer installs a jaeger tracer configured by the JAEGER_* environment variables.
// The returned closer flushes pending spans.
func InitGlobalTracer(serviceName string) (io.Closer, error) {
	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = serviceName
	}
	tracer, closer, err := cfg.NewTracer(jaegercfg.Logger(jaegerLogger{}))
	if err != nil {
		return nil, err
	}
	opentracing.SetGlobalTracer(tracer)
	logrus.WithField("service", cfg.ServiceName).Info("jaeger tracer installed")
	return closer, nil
}

type jaegerLogger struct{}

func (jaegerLogger) Error(msg string) {
	logrus.WithField("component", "jaeger").Error(msg)
}

func (jaegerLogger) Infof(msg string, args ...interface{}) {
	logrus.WithField("component", "jaeger").Infof(msg, args...)
}

func (jaegerLogger) Debugf(msg string, args ...interface{}) {
	logrus.WithField("component", "jaeger").Debugf(msg, args...)
}
