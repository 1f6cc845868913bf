package core

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// stubStore overrides just the repository calls a test needs; everything
// else panics through the nil embedded interface, which keeps the stubs
// honest about what the code under test actually touches.
type stubStore struct {
	Repository
	appendErr     error
	activeAttempt *UpdateAttempt
	saved         []*UpdateAttempt
	created       []*UpdateAttempt
}

func (s *stubStore) AppendEvent(ctx context.Context, event *OtaEvent) error {
	return s.appendErr
}

func (s *stubStore) GetActiveAttempt(ctx context.Context, deviceID string) (*UpdateAttempt, error) {
	if s.activeAttempt == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.activeAttempt, nil
}

func (s *stubStore) SaveAttempt(ctx context.Context, attempt *UpdateAttempt) error {
	s.saved = append(s.saved, attempt)
	return nil
}

func (s *stubStore) CreateAttempt(ctx context.Context, attempt *UpdateAttempt) error {
	s.created = append(s.created, attempt)
	return nil
}

func TestRecordCountsOnlyPersistedEvents(t *testing.T) {
	ctx := context.Background()

	broken := NewAuditRecorder(&stubStore{appendErr: errors.New("disk full")}, nil, discardLogger())
	eventsBefore := testutil.ToFloat64(metricEventsTotal.WithLabelValues(EventUpdateStarted))
	failuresBefore := testutil.ToFloat64(metricAuditFailuresTotal)

	broken.Record(ctx, EventUpdateStarted, "device-1", "2.0.0", nil)

	assert.Equal(t, eventsBefore, testutil.ToFloat64(metricEventsTotal.WithLabelValues(EventUpdateStarted)))
	assert.Equal(t, failuresBefore+1, testutil.ToFloat64(metricAuditFailuresTotal))

	ok := NewAuditRecorder(&stubStore{}, nil, discardLogger())
	ok.Record(ctx, EventUpdateStarted, "device-1", "2.0.0", nil)

	assert.Equal(t, eventsBefore+1, testutil.ToFloat64(metricEventsTotal.WithLabelValues(EventUpdateStarted)))
	assert.Equal(t, failuresBefore+1, testutil.ToFloat64(metricAuditFailuresTotal))
}

func TestSupersededAttemptCountsFailedTransition(t *testing.T) {
	ctx := context.Background()
	logger := discardLogger()

	store := &stubStore{
		activeAttempt: &UpdateAttempt{
			AttemptID:       "old-attempt",
			DeviceID:        "device-1",
			FirmwareVersion: "1.5.0",
			Status:          StatusDownloading,
		},
	}
	audit := NewAuditRecorder(store, nil, logger)
	registry := NewDeviceRegistryService(store, nil, logger)
	svc := NewUpdateAttemptService(store, registry, audit, logger)

	failedBefore := testutil.ToFloat64(metricTransitionsTotal.WithLabelValues(StatusFailed))
	pendingBefore := testutil.ToFloat64(metricTransitionsTotal.WithLabelValues(StatusPending))

	attempt, err := svc.StartAttempt(ctx, "device-1", "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, attempt.Status)

	require.Len(t, store.saved, 1)
	assert.Equal(t, StatusFailed, store.saved[0].Status)
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(metricTransitionsTotal.WithLabelValues(StatusFailed)))
	assert.Equal(t, pendingBefore+1, testutil.ToFloat64(metricTransitionsTotal.WithLabelValues(StatusPending)))
}
