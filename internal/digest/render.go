// Package digest renders and emails the daily sync summary.
package digest

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/lecpa/docsync/pkg/types"
)

// Message is a rendered digest
type Message struct {
	Subject string
	HTML    string
	Text    string
}

type view struct {
	Date        string
	GeneratedAt string
	AgentStatus string
	Detected    int
	Processed   int
	Failed      int
	Pending     int
}

func (v view) PendingClass() string {
	if v.Pending > 0 {
		return "warning"
	}
	return "ok"
}

func (v view) FailedClass() string {
	if v.Failed > 0 {
		return "error"
	}
	return "ok"
}

var htmlTmpl = htmltemplate.Must(htmltemplate.New("digest.html").Parse(`<!DOCTYPE html>
<html>
<head>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
h1 { color: #2c3e50; border-bottom: 2px solid #3498db; padding-bottom: 10px; }
.stats { display: flex; flex-wrap: wrap; gap: 20px; margin: 20px 0; }
.stat-box { background: #f8f9fa; border-radius: 8px; padding: 15px; min-width: 120px; }
.stat-value { font-size: 32px; font-weight: bold; color: #2c3e50; }
.stat-label { font-size: 14px; color: #666; }
.warning { background: #fff3cd; }
.warning .stat-value { color: #856404; }
.error { background: #f8d7da; }
.error .stat-value { color: #721c24; }
.ok .stat-value { color: #28a745; }
.footer { margin-top: 30px; font-size: 12px; color: #666; }
</style>
</head>
<body>
<div class="container">
<h1>NAS Sync Daily Digest</h1>
<p>Summary for {{.Date}}</p>
<div class="stats">
<div class="stat-box"><div class="stat-value">{{.Detected}}</div><div class="stat-label">Files Detected</div></div>
<div class="stat-box"><div class="stat-value">{{.Processed}}</div><div class="stat-label">Files Processed</div></div>
<div class="stat-box {{.FailedClass}}"><div class="stat-value">{{.Failed}}</div><div class="stat-label">Files Failed</div></div>
<div class="stat-box {{.PendingClass}}"><div class="stat-value">{{.Pending}}</div><div class="stat-label">Pending Approval</div></div>
</div>
<p><strong>Agent Status:</strong> {{.AgentStatus}}</p>
{{if gt .Pending 0}}<p style="color: #856404;"><strong>Action Required:</strong> There are items pending approval in the sync queue.</p>{{end}}
{{if gt .Failed 0}}<p style="color: #721c24;"><strong>Attention:</strong> Some files failed to process. Please check the logs.</p>{{end}}
<div class="footer">
<p>This is an automated message from Le CPA Agent NAS Sync.</p>
<p>Generated at {{.GeneratedAt}}</p>
</div>
</div>
</body>
</html>
`))

var textTmpl = texttemplate.Must(texttemplate.New("digest.txt").Parse(`NAS Sync Daily Digest
=====================

Summary for {{.Date}}

Statistics:
- Files Detected: {{.Detected}}
- Files Processed: {{.Processed}}
- Files Failed: {{.Failed}}
- Pending Approval: {{.Pending}}

Agent Status: {{.AgentStatus}}
{{if gt .Pending 0}}
** ACTION REQUIRED: Items pending approval in sync queue **
{{end}}{{if gt .Failed 0}}
** ATTENTION: Some files failed to process **
{{end}}
---
This is an automated message from Le CPA Agent NAS Sync.
Generated at {{.GeneratedAt}}
`))

// Subject returns the digest subject line for day
func Subject(day time.Time) string {
	return "NAS Sync Daily Digest - " + day.Format("2006-01-02")
}

// Render builds the HTML and plain-text digest for status as of now
func Render(status types.SyncStatusResponse, now time.Time) (Message, error) {
	v := view{
		Date:        now.Format("January 02, 2006"),
		GeneratedAt: now.Format("2006-01-02 15:04:05"),
		AgentStatus: status.AgentStatus,
		Detected:    status.TodayStats.FilesDetected,
		Processed:   status.TodayStats.FilesProcessed,
		Failed:      status.TodayStats.FilesFailed,
		Pending:     status.QueueStats.PendingApproval,
	}

	var html, text bytes.Buffer
	if err := htmlTmpl.Execute(&html, v); err != nil {
		return Message{}, fmt.Errorf("failed to render html digest: %w", err)
	}
	if err := textTmpl.Execute(&text, v); err != nil {
		return Message{}, fmt.Errorf("failed to render text digest: %w", err)
	}
	return Message{Subject: Subject(now), HTML: html.String(), Text: text.String()}, nil
}
