package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tygr/ragserve/internal/models"
	"github.com/tygr/ragserve/internal/monitoring"
)

const maxStreamChunkSize = 256 * 1024

// Stream runs one streamed completion. The returned channel carries zero or
// more Chunk events followed by exactly one Complete or Failure, then
// closes. Cancelling ctx stops upstream reads and closes the response body;
// the channel still receives its terminal event.
func (c *Client) Stream(ctx context.Context, genReq *Request) (<-chan Event, error) {
	body, err := json.Marshal(genReq.toWire(c.maxOutputTokens))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, genReq.Model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		monitoring.RecordGenerationRequest(genReq.Model, "error")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		monitoring.RecordGenerationRequest(genReq.Model, "error")
		return nil, statusError(resp.StatusCode, respBody)
	}

	events := make(chan Event)
	go c.relayStream(ctx, genReq.Model, resp.Body, events)
	return events, nil
}

// relayStream reads SSE data lines from upstream and converts them to
// events. It owns the response body and the event channel.
func (c *Client) relayStream(ctx context.Context, model string, upstream io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer upstream.Close()

	start := time.Now()
	var fullText strings.Builder
	var usage models.TokenUsage

	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 64*1024), maxStreamChunkSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			send(Failure{Err: ctx.Err()})
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var parsed generateContentResponse
		if err := json.Unmarshal([]byte(data), &parsed); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse stream chunk")
			continue
		}

		if parsed.UsageMetadata != nil {
			usage = parsed.UsageMetadata.toTokenUsage()
		}

		if text := candidateText(parsed); text != "" {
			fullText.WriteString(text)
			if !send(Chunk{Text: text}) {
				monitoring.RecordGenerationRequest(model, "cancelled")
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		monitoring.RecordGenerationRequest(model, "error")
		send(Failure{Err: fmt.Errorf("%w: reading stream: %v", ErrUnavailable, err)})
		return
	}

	if fullText.Len() == 0 {
		monitoring.RecordGenerationRequest(model, "error")
		send(Failure{Err: ErrEmptyCompletion})
		return
	}

	monitoring.RecordGenerationLatency(model, time.Since(start))
	monitoring.RecordGenerationRequest(model, "success")
	monitoring.RecordGenerationTokens(model, usage.PromptTokens, usage.CompletionTokens)
	send(Complete{FullText: fullText.String(), Usage: usage})
}
