package llm

import (
	"context"
	"log/slog"
)

type fallback struct {
	primary   Generator
	secondary Generator
	logger    *slog.Logger
}

// WithFallback returns a Generator that retries once on secondary when
// primary fails with ErrRateLimited or ErrParse, including an ErrParse from
// the request's Decode hook. Other errors, and any error from secondary, are
// returned as is. A nil secondary returns primary.
func WithFallback(primary, secondary Generator) Generator {
	if secondary == nil {
		return primary
	}
	return &fallback{primary: primary, secondary: secondary, logger: slog.Default()}
}

func (f *fallback) Generate(ctx context.Context, req Request) (Response, error) {
	resp, err := f.primary.Generate(ctx, req)
	if err == nil && req.Decode != nil {
		err = req.Decode(resp.Content)
	}
	if err == nil || !Retryable(err) {
		return resp, err
	}
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	f.logger.Warn("Primary generator failed, using fallback",
		"task", req.Task,
		"mode", req.Mode.String(),
		"error", err,
	)
	generatorFallbacks.WithLabelValues(req.Task).Inc()
	return f.secondary.Generate(ctx, req)
}
