// Package httprecord posts finished calls to the chat history service.
package httprecord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Wyydra/yacall/internal/call"
	"github.com/rs/zerolog/log"
)

const defaultTimeout = 10 * time.Second

type Recorder struct {
	endpoint string
	client   *http.Client
}

var _ call.Recorder = (*Recorder)(nil)

// New returns a Recorder posting to endpoint. A nil client gets one with a
// 10s timeout.
func New(endpoint string, client *http.Client) (*Recorder, error) {
	if endpoint == "" {
		return nil, errors.New("record endpoint is required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Recorder{endpoint: endpoint, client: client}, nil
}

type payload struct {
	call.CallRecord
	DurationMs int64 `json:"durationMs"`
}

func (r *Recorder) Record(ctx context.Context, rec call.CallRecord) error {
	body, err := json.Marshal(payload{CallRecord: rec, DurationMs: rec.Duration().Milliseconds()})
	if err != nil {
		return fmt.Errorf("encode call record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post call record: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("post call record: status %s", resp.Status)
	}
	log.Debug().Str("room_id", rec.RoomID.String()).Dur("duration", rec.Duration()).Msg("Call recorded")
	return nil
}
