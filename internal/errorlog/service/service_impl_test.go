package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/clock"
	errorlogdomain "github.com/smallbiznis/fortuna/internal/errorlog/domain"
	"github.com/smallbiznis/fortuna/internal/errorlog/repository"
	"github.com/smallbiznis/fortuna/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordPersistsWithDefaultSeverity(t *testing.T) {
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})

	accountID := snowflake.ID(7)
	err = svc.Record(context.Background(), errorlogdomain.Entry{
		ErrorType: "audio_synthesis_failed",
		Message:   "tts timeout",
		Endpoint:  "/api/usage",
		Severity:  "weird",
		AccountID: &accountID,
		Metadata:  map[string]any{"unit_id": "1"},
	})
	require.NoError(t, err)

	var row errorlogdomain.ErrorLog
	require.NoError(t, db.Raw(`SELECT * FROM error_logs LIMIT 1`).Scan(&row).Error)
	assert.Equal(t, errorlogdomain.SeverityMedium, row.Severity)
	assert.Equal(t, "audio_synthesis_failed", row.ErrorType)
	require.NotNil(t, row.Endpoint)
	assert.Equal(t, "/api/usage", *row.Endpoint)
	assert.Equal(t, "1", row.Metadata["unit_id"])
}

func TestRecordRejectsEmptyEntry(t *testing.T) {
	svc := &Service{log: zap.NewNop()}
	err := svc.Record(context.Background(), errorlogdomain.Entry{})
	assert.ErrorIs(t, err, errorlogdomain.ErrInvalidEntry)
}
