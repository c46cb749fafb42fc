package jobs

import (
	"testing"
	"time"

	"sure_app_go/models"
	"sure_app_go/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler(t *testing.T) {
	db, _ := setupDemo(t)
	cfg := testConfig()

	s, err := NewScheduler(db, cfg, services.NewMockSMSSender())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Entries())

	cfg.CleanupSchedule = ""
	s, err = NewScheduler(db, cfg, services.NewMockSMSSender())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Entries())

	cfg.SweepSchedule = "every now and then"
	_, err = NewScheduler(db, cfg, services.NewMockSMSSender())
	assert.Error(t, err)
}

func TestSchedulerStartStop(t *testing.T) {
	db, _ := setupDemo(t)
	s, err := NewScheduler(db, testConfig(), services.NewMockSMSSender())
	require.NoError(t, err)
	s.Start()
	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestCleanup(t *testing.T) {
	db, demo := setupDemo(t)
	now := time.Now()

	expired := &models.Session{ID: "s1", UserID: demo.Admin.ID, Token: "expired", ExpiresAt: now.Add(-time.Hour)}
	active := &models.Session{ID: "s2", UserID: demo.Admin.ID, Token: "active", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, db.Create(expired).Error)
	require.NoError(t, db.Create(active).Error)

	require.NoError(t, Cleanup(db, now))

	var ids []string
	require.NoError(t, db.Model(&models.Session{}).Pluck("id", &ids).Error)
	assert.Equal(t, []string{"s2"}, ids)
}
