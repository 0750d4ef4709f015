package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jingkaihe/skilldeck/pkg/logger"
	"github.com/jingkaihe/skilldeck/pkg/telemetry"
	"github.com/jingkaihe/skilldeck/pkg/version"
)

var (
	shutdownTracer telemetry.ShutdownFunc
	commandSpan    trace.Span
)

// startTracing initializes the tracer and opens a span covering the
// command, carried on the command's context.
func startTracing(cmd *cobra.Command) error {
	ctx := cmd.Context()

	config := telemetry.Config{
		Enabled:        viper.GetBool("tracing.enabled"),
		ServiceName:    telemetry.ServiceName,
		ServiceVersion: version.Get().Version,
		SamplerType:    viper.GetString("tracing.sampler_type"),
		SamplerRatio:   viper.GetFloat64("tracing.sampler_ratio"),
	}
	shutdown, err := telemetry.InitTracer(ctx, config)
	if err != nil {
		return err
	}
	shutdownTracer = shutdown

	attrs := []attribute.KeyValue{
		attribute.String("command.name", cmd.Name()),
		attribute.String("command.path", cmd.CommandPath()),
	}
	// Skip flags that might contain secrets
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		if flag.Name != "token" && flag.Name != "github-token" {
			attrs = append(attrs, attribute.String("flag."+flag.Name, flag.Value.String()))
		}
	})

	ctx, commandSpan = telemetry.Tracer().Start(ctx, "cli.command", trace.WithAttributes(attrs...))
	cmd.SetContext(ctx)
	return nil
}

func stopTracing(ctx context.Context) {
	if commandSpan != nil {
		commandSpan.End()
	}
	if shutdownTracer == nil {
		return
	}
	if err := shutdownTracer(ctx); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to shut down tracer")
	}
}

// Initialize global flags for tracing
func init() {
	rootCmd.PersistentFlags().Bool("tracing-enabled", false, "Enable OpenTelemetry tracing")
	rootCmd.PersistentFlags().String("tracing-sampler", "ratio", "Tracing sampler type (always, never, ratio)")
	rootCmd.PersistentFlags().Float64("tracing-ratio", 1, "Sampling ratio when using ratio sampler")

	// Bind flags to viper
	viper.BindPFlag("tracing.enabled", rootCmd.PersistentFlags().Lookup("tracing-enabled"))
	viper.BindPFlag("tracing.sampler_type", rootCmd.PersistentFlags().Lookup("tracing-sampler"))
	viper.BindPFlag("tracing.sampler_ratio", rootCmd.PersistentFlags().Lookup("tracing-ratio"))
}
