package answering

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/seu-repo/siga-mi/internal/domain"
)

// fragment is one SSE-style frame payload. The answering service's framing is
// not a stable contract, so unknown fields are ignored.
type fragment struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// Decode reduces a raw answer stream to a single plain-text answer. The
// stream is either plain text or SSE-style `data: {json}` frames carrying
// incremental content; the two may be mixed by proxies. Malformed frames are
// skipped, never fatal. An empty decoded result is ErrEmptyResponse.
func Decode(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 512*1024)

	var framed strings.Builder
	var raw []string
	sawFrame := false

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if payload, ok := strings.CutPrefix(trimmed, "data:"); ok {
			payload = strings.TrimSpace(payload)
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				sawFrame = true
				break
			}
			var f fragment
			if err := json.Unmarshal([]byte(payload), &f); err != nil {
				// Truncated or garbled frame; best-effort accumulation.
				continue
			}
			sawFrame = true
			framed.WriteString(f.Content)
			if f.Done {
				break
			}
			continue
		}

		raw = append(raw, trimmed)
	}

	var text string
	if sawFrame {
		text = framed.String()
	} else {
		text = strings.Join(raw, "\n")
	}
	text = strings.TrimSpace(text)

	if err := scanner.Err(); err != nil && text == "" {
		return "", err
	}
	if text == "" {
		return "", domain.ErrEmptyResponse
	}
	return text, nil
}
