package digest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecpa/docsync/internal/config"
	"github.com/lecpa/docsync/pkg/types"
)

var day = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func status(pending, failed int) *types.SyncStatusResponse {
	return &types.SyncStatusResponse{
		AgentStatus: types.AgentHealthy,
		QueueStats:  types.QueueStats{PendingApproval: pending},
		TodayStats:  types.TodayStats{FilesDetected: 12, FilesProcessed: 10, FilesFailed: failed},
	}
}

func TestRender(t *testing.T) {
	t.Run("quiet day", func(t *testing.T) {
		msg, err := Render(*status(0, 0), day)
		require.NoError(t, err)

		assert.Equal(t, "NAS Sync Daily Digest - 2025-03-10", msg.Subject)
		assert.Contains(t, msg.Text, "Summary for March 10, 2025")
		assert.Contains(t, msg.Text, "- Files Detected: 12")
		assert.Contains(t, msg.Text, "- Files Processed: 10")
		assert.Contains(t, msg.Text, "Agent Status: healthy")
		assert.NotContains(t, msg.Text, "ACTION REQUIRED")
		assert.NotContains(t, msg.Text, "ATTENTION")

		assert.Contains(t, msg.HTML, "<h1>NAS Sync Daily Digest</h1>")
		assert.Contains(t, msg.HTML, `<div class="stat-box ok"><div class="stat-value">0</div><div class="stat-label">Files Failed</div>`)
		assert.NotContains(t, msg.HTML, "Action Required")
	})

	t.Run("alerts", func(t *testing.T) {
		msg, err := Render(*status(3, 2), day)
		require.NoError(t, err)

		assert.Contains(t, msg.Text, "** ACTION REQUIRED: Items pending approval in sync queue **")
		assert.Contains(t, msg.Text, "** ATTENTION: Some files failed to process **")
		assert.Contains(t, msg.HTML, `stat-box warning`)
		assert.Contains(t, msg.HTML, `stat-box error`)
		assert.Contains(t, msg.HTML, "Action Required:")
		assert.Contains(t, msg.HTML, "Attention:")
	})

	t.Run("escapes agent status", func(t *testing.T) {
		st := status(0, 0)
		st.AgentStatus = "<b>x</b>"
		msg, err := Render(*st, day)
		require.NoError(t, err)
		assert.NotContains(t, msg.HTML, "<b>x</b>")
		assert.Contains(t, msg.Text, "<b>x</b>")
	})
}

type fakeSource struct {
	resp *types.SyncStatusResponse
	err  error
}

func (f fakeSource) SyncStatus(context.Context) (*types.SyncStatusResponse, error) {
	return f.resp, f.err
}

type fakeMailer struct {
	calls int
	from  string
	to    []string
	raw   string
	err   error
}

func (m *fakeMailer) Send(_ context.Context, from string, to []string, msg []byte) error {
	m.calls++
	m.from, m.to, m.raw = from, to, string(msg)
	return m.err
}

func enabled() config.DigestConfig {
	cfg := config.Default().Digest
	cfg.Enabled = true
	cfg.Recipients = []string{"ops@lecpa.example", "partner@lecpa.example"}
	cfg.FromAddress = "nas-sync@lecpa.example"
	return cfg
}

func TestSender_Send(t *testing.T) {
	mailer := &fakeMailer{}
	s := NewSender(enabled(), fakeSource{resp: status(1, 0)}, WithMailer(mailer), WithClock(func() time.Time { return day }))

	msg, err := s.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NAS Sync Daily Digest - 2025-03-10", msg.Subject)

	require.Equal(t, 1, mailer.calls)
	assert.Equal(t, "nas-sync@lecpa.example", mailer.from)
	assert.Equal(t, []string{"ops@lecpa.example", "partner@lecpa.example"}, mailer.to)
	assert.Contains(t, mailer.raw, "To: ops@lecpa.example, partner@lecpa.example\r\n")
	assert.Contains(t, mailer.raw, "Subject: NAS Sync Daily Digest - 2025-03-10\r\n")
	assert.Contains(t, mailer.raw, "Content-Type: multipart/alternative")
	assert.Contains(t, mailer.raw, "text/plain; charset=utf-8")
	assert.Contains(t, mailer.raw, "text/html; charset=utf-8")
}

func TestSender_NotSent(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.DigestConfig)
		wantErr error
	}{
		{"disabled", func(c *config.DigestConfig) { c.Enabled = false }, ErrDisabled},
		{"no recipients", func(c *config.DigestConfig) { c.Recipients = nil }, ErrNoRecipients},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabled()
			tt.mutate(&cfg)
			mailer := &fakeMailer{}
			_, err := NewSender(cfg, fakeSource{resp: status(0, 0)}, WithMailer(mailer)).Send(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, mailer.calls)
		})
	}
}

func TestSender_Errors(t *testing.T) {
	t.Run("status unavailable", func(t *testing.T) {
		mailer := &fakeMailer{}
		_, err := NewSender(enabled(), fakeSource{err: errors.New("connection refused")}, WithMailer(mailer)).Send(context.Background())
		assert.ErrorContains(t, err, "connection refused")
		assert.Zero(t, mailer.calls)
	})

	t.Run("smtp failure", func(t *testing.T) {
		mailer := &fakeMailer{err: errors.New("535 auth failed")}
		msg, err := NewSender(enabled(), fakeSource{resp: status(0, 0)}, WithMailer(mailer)).Send(context.Background())
		assert.ErrorContains(t, err, "535 auth failed")
		assert.NotEmpty(t, msg.Subject)
	})

	t.Run("from falls back to smtp user", func(t *testing.T) {
		cfg := enabled()
		cfg.FromAddress = ""
		cfg.SMTPUser = "relay@lecpa.example"
		mailer := &fakeMailer{}
		_, err := NewSender(cfg, fakeSource{resp: status(0, 0)}, WithMailer(mailer)).Send(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "relay@lecpa.example", mailer.from)
	})
}

func TestSMTPMailer_RequiresHost(t *testing.T) {
	err := (&SMTPMailer{}).Send(context.Background(), "a@b", []string{"c@d"}, []byte("x"))
	assert.Error(t, err)
}
