package export

import (
	"bytes"
	"html/template"
)

// RenderTranscriptHTML renders the transcript into the HTML page that gets
// printed to PDF. All user content is escaped by html/template.
func RenderTranscriptHTML(transcript Transcript) (string, error) {
	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, transcript); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>#{{.ChannelName}} transcript</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; color: #1d1c1d; max-width: 700px; margin: 0 auto; padding: 24px; }
        .header { border-bottom: 2px solid #611f69; padding-bottom: 12px; margin-bottom: 24px; }
        .header h1 { margin: 0; font-size: 22px; }
        .header .meta { color: #616061; font-size: 12px; margin-top: 4px; }
        .message { margin-bottom: 18px; page-break-inside: avoid; }
        .message .author { font-weight: 700; }
        .message .time { color: #616061; font-size: 11px; margin-left: 6px; }
        .message .edited { color: #616061; font-size: 11px; font-style: italic; margin-left: 4px; }
        .message .body { margin: 2px 0 0; white-space: pre-wrap; }
        .message .extras { color: #616061; font-size: 12px; margin-top: 2px; }
        .reaction { background: #f4f0f5; border-radius: 10px; padding: 1px 8px; margin-right: 4px; }
    </style>
</head>
<body>
    <div class="header">
        <h1>#{{.ChannelName}}</h1>
        <div class="meta">{{.WorkspaceName}} &middot; exported {{.GeneratedAt.Format "Jan 2, 2006 15:04 MST"}} &middot; {{len .Entries}} messages</div>
    </div>
{{range .Entries}}
    <div class="message">
        <span class="author">{{.Author}}</span><span class="time">{{.SentAt.Format "Jan 2, 2006 15:04"}}</span>{{if .Edited}}<span class="edited">(edited)</span>{{end}}
        <p class="body">{{.Body}}</p>
        {{if or .Reactions .ReplyCount}}<div class="extras">{{range .Reactions}}<span class="reaction">{{.}}</span>{{end}}{{if .ReplyCount}}{{.ReplyCount}} replies in thread{{end}}</div>{{end}}
    </div>
{{end}}
</body>
</html>`))
