package genai

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/daijiaran/cinegrid/internal/domain"
)

var safetyFinishReasons = map[string]struct{}{
	"SAFETY":             {},
	"IMAGE_SAFETY":       {},
	"PROHIBITED_CONTENT": {},
	"BLOCKLIST":          {},
	"SPII":               {},
}

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".webp": {}, ".gif": {},
}

var (
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^\s)]+)\)`)
	bareURLRe       = regexp.MustCompile(`https?://[^\s)"'<>]+`)
)

// parseResponses accepts a whole-body JSON array or object first and falls
// back to SSE "data:" frames. Malformed frames are skipped and counted.
func parseResponses(raw []byte) ([]geminiGenerateContentResponse, int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, 0, errors.New("genai: empty response body")
	}

	switch trimmed[0] {
	case '[':
		var list []geminiGenerateContentResponse
		if err := json.Unmarshal(trimmed, &list); err == nil {
			return list, 0, nil
		}
	case '{':
		var single geminiGenerateContentResponse
		if err := json.Unmarshal(trimmed, &single); err == nil {
			return []geminiGenerateContentResponse{single}, 0, nil
		}
	}

	var (
		out     []geminiGenerateContentResponse
		skipped int
	)
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 64<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var frame geminiGenerateContentResponse
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			skipped++
			continue
		}
		out = append(out, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("genai: scan stream: %w", err)
	}
	if len(out) == 0 {
		return nil, skipped, errors.New("genai: response is neither JSON nor SSE frames")
	}
	return out, skipped, nil
}

// extractImage walks candidates in order. Safety-filtered candidates are
// skipped; inline image data wins over URLs found in text.
func extractImage(responses []geminiGenerateContentResponse) (domain.GeneratedAsset, error) {
	var (
		text        strings.Builder
		filtered    int
		usable      int
		blockReason string
	)
	for _, resp := range responses {
		if resp.Error != nil && resp.Error.Message != "" {
			return domain.GeneratedAsset{}, fmt.Errorf("genai: %w: %s", domain.ErrSubmission, resp.Error.Message)
		}
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			blockReason = resp.PromptFeedback.BlockReason
		}
		for _, cand := range resp.Candidates {
			if _, blocked := safetyFinishReasons[strings.ToUpper(cand.FinishReason)]; blocked {
				filtered++
				blockReason = cand.FinishReason
				continue
			}
			usable++
			for _, part := range cand.Content.Parts {
				if part.InlineData != nil && part.InlineData.Data != "" {
					data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
					if err != nil {
						continue
					}
					return domain.GeneratedAsset{Data: data, MIME: part.InlineData.MimeType}, nil
				}
				if part.FileData != nil && part.FileData.FileURI != "" {
					return domain.GeneratedAsset{URL: part.FileData.FileURI, MIME: part.FileData.MimeType}, nil
				}
				text.WriteString(part.Text)
			}
		}
	}

	if u := imageURLFromText(text.String()); u != "" {
		return domain.GeneratedAsset{URL: u}, nil
	}
	if usable == 0 && (filtered > 0 || blockReason != "") {
		return domain.GeneratedAsset{}, &domain.RemoteFailureError{Code: blockReason, Reason: "all candidates were blocked by the safety filter"}
	}
	reason := "response contained no image"
	if t := strings.TrimSpace(text.String()); t != "" {
		reason = truncate(t, 200)
	}
	return domain.GeneratedAsset{}, &domain.RemoteFailureError{Reason: reason}
}

func imageURLFromText(text string) string {
	if m := markdownImageRe.FindStringSubmatch(text); len(m) == 2 {
		return m[1]
	}
	for _, candidate := range bareURLRe.FindAllString(text, -1) {
		candidate = strings.TrimRight(candidate, ".,;")
		if hasImageExtension(candidate) {
			return candidate
		}
	}
	return ""
}

// hasImageExtension checks the URL path, ignoring any query string.
func hasImageExtension(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	_, ok := imageExtensions[strings.ToLower(path.Ext(u.Path))]
	return ok
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
