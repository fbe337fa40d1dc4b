package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/eventrelay/internal/platform/realtime"
)

// Dispatcher hands built payloads to a real-time channel.
type Dispatcher struct {
	channel realtime.Channel
	logger  zerolog.Logger
}

// NewDispatcher creates a Dispatcher over channel.
func NewDispatcher(channel realtime.Channel, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{channel: channel, logger: logger}
}

// Dispatch sends payload to target. It returns once the channel accepted
// the message; client receipt is not awaited.
func (d *Dispatcher) Dispatch(ctx context.Context, payload Notification, target string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := d.channel.Send(ctx, target, body); err != nil {
		return fmt.Errorf("dispatch to %q: %w", target, err)
	}
	d.logger.Info().Str("target", target).Int("bytes", len(body)).Msg("payload dispatched")
	return nil
}
