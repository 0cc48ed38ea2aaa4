package sink

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
	"github.com/JakeFAU/practice-vendor-crawler/internal/metrics"
)

// NamedMirror pairs a mirror with the name used in logs and metrics.
type NamedMirror struct {
	Name   string
	Mirror crawler.RecordMirror
}

// MirroredSink forwards each durably written record to secondary stores.
// Only the primary write can fail a Write.
type MirroredSink struct {
	primary crawler.Sink
	mirrors []NamedMirror
	logger  *zap.Logger
}

var _ crawler.Sink = (*MirroredSink)(nil)

// NewMirrored wraps primary. With no mirrors it returns primary unchanged.
func NewMirrored(primary crawler.Sink, mirrors []NamedMirror, logger *zap.Logger) crawler.Sink {
	if len(mirrors) == 0 {
		return primary
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirroredSink{primary: primary, mirrors: mirrors, logger: logger}
}

// Write writes to the primary, then to every mirror.
func (m *MirroredSink) Write(ctx context.Context, rec crawler.DetectionRecord) error {
	if err := m.primary.Write(ctx, rec); err != nil {
		return err
	}
	for _, nm := range m.mirrors {
		if err := nm.Mirror.MirrorRecord(ctx, rec); err != nil {
			metrics.ObserveMirrorFailure(nm.Name)
			m.logger.Warn("record mirror failed",
				zap.String("mirror", nm.Name),
				zap.String("id", rec.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close closes the primary sink and any mirror that holds resources.
func (m *MirroredSink) Close() error {
	err := m.primary.Close()
	for _, nm := range m.mirrors {
		c, ok := nm.Mirror.(interface{ Close() error })
		if !ok {
			continue
		}
		if cerr := c.Close(); cerr != nil {
			m.logger.Warn("closing mirror failed", zap.String("mirror", nm.Name), zap.Error(cerr))
			if err == nil {
				err = fmt.Errorf("close mirror %s: %w", nm.Name, cerr)
			}
		}
	}
	return err
}
