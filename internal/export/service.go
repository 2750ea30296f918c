package export

import "fmt"

// Render produces the downloadable PDF for a resolved transcript.
func Render(transcript Transcript) (*Result, error) {
	html, err := RenderTranscriptHTML(transcript)
	if err != nil {
		return nil, fmt.Errorf("render transcript: %w", err)
	}
	return renderPDF(html, transcript.ChannelName)
}
