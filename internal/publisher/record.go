// Package publisher adapts message publishers into record mirrors.
package publisher

import (
	"context"
	"fmt"
	"strconv"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

// RecordMessage is the published form of a detection record.
type RecordMessage struct {
	crawler.DetectionRecord
}

// Attributes exposes fields subscribers commonly filter on.
func (m RecordMessage) Attributes() map[string]string {
	return map[string]string{
		"run_id":              m.RunID,
		"practice_id":         m.ID,
		"status":              string(m.Status),
		"partial":             strconv.FormatBool(m.Partial),
		"has_online_booking":  strconv.FormatBool(m.HasOnlineBooking),
		"has_online_payments": strconv.FormatBool(m.HasOnlinePayments),
	}
}

// RecordMirror publishes each written record to one topic.
type RecordMirror struct {
	pub   crawler.Publisher
	topic string
}

// NewRecordMirror builds a mirror over pub.
func NewRecordMirror(pub crawler.Publisher, topic string) (*RecordMirror, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	return &RecordMirror{pub: pub, topic: topic}, nil
}

// MirrorRecord publishes rec.
func (m *RecordMirror) MirrorRecord(ctx context.Context, rec crawler.DetectionRecord) error {
	if _, err := m.pub.Publish(ctx, m.topic, RecordMessage{DetectionRecord: rec}); err != nil {
		return fmt.Errorf("publish record %s: %w", rec.ID, err)
	}
	return nil
}

// Close closes the publisher when it supports closing.
func (m *RecordMirror) Close() error {
	if c, ok := m.pub.(interface{ Close() error }); ok {
		return c.Close() //nolint:wrapcheck // passthrough
	}
	return nil
}
