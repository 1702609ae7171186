package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"forum-api/internal/config"
)

func TestSampler(t *testing.T) {
	tests := []struct {
		name string
		app  config.AppConfig
		want string
	}{
		{"development always samples", config.AppConfig{Env: config.EnvDevelopment, OTelSampleRatio: 0.1}, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
		{"production ratio", config.AppConfig{Env: config.EnvProduction, OTelSampleRatio: 0.25}, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description()},
		{"production full", config.AppConfig{Env: config.EnvProduction, OTelSampleRatio: 1}, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()},
		{"production off", config.AppConfig{Env: config.EnvProduction}, sdktrace.ParentBased(sdktrace.NeverSample()).Description()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sampler(tt.app).Description())
		})
	}
}
