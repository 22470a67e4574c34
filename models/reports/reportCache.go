package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/garment_backend/config"
	"bitbucket.org/mmdatafocus/garment_backend/models"
	"bitbucket.org/mmdatafocus/garment_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("bitbucket.org/mmdatafocus/garment_backend/models/reports")

func startSpan(ctx context.Context, name string, factoryId string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "reports."+name, trace.WithAttributes(attribute.String("factory_id", factoryId)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func dateText(d *models.MyDateString) string {
	if d == nil {
		return ""
	}
	return d.Time().Format("2006-01-02")
}

func reportCacheKey(factoryId string, name string, parts ...interface{}) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		texts = append(texts, utils.CellString(p))
	}
	return fmt.Sprintf("Report:%s:%s:%s", factoryId, name, strings.Join(texts, "|"))
}

// cachedReport returns the cached result for key or builds and stores it.
func cachedReport[T any](key string, build func() (*T, error)) (*T, error) {
	if !config.ReportCacheEnabled() {
		return build()
	}
	var cached T
	exists, err := config.GetRedisObject(key, &cached)
	if err != nil {
		config.LogError(config.GetLogger(), "reports", "cachedReport", "reading report cache", key, err)
	} else if exists {
		return &cached, nil
	}
	result, err := build()
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(key, result, config.ReportCacheTTL()); err != nil {
		config.LogError(config.GetLogger(), "reports", "cachedReport", "writing report cache", key, err)
	}
	return result, nil
}

func logSlowReport(ctx context.Context, name string, started time.Time, extra map[string]any) {
	d := time.Since(started)
	if d < config.ReportSlowThreshold() {
		return
	}
	factoryId, _ := utils.GetFactoryIdFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	config.LogInfo(config.GetLogger(), "reports", name, "slow report", map[string]any{
		"ms":             d.Milliseconds(),
		"factory_id":     factoryId,
		"correlation_id": correlationId,
		"extra":          extra,
	})
}

func lineNames(ctx context.Context) (map[int]string, error) {
	lines, err := models.ListLines(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int]string, len(lines))
	for _, l := range lines {
		names[l.ID] = l.Name
	}
	return names, nil
}

func styleNumbers(ctx context.Context) (map[int]string, error) {
	styles, err := models.ListStyles(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int]string, len(styles))
	for _, s := range styles {
		names[s.ID] = s.StyleNo
	}
	return names, nil
}
