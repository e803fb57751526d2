package ws

import (
	"go.uber.org/zap"

	"github.com/dgnsrekt/rtr-relay/internal/payload"
)

// Streamer broadcasts published updates to the subscribers of each unit.
type Streamer struct {
	hub     *Hub
	encoder *Encoder
	logger  *zap.Logger
}

// NewStreamer creates a new Streamer.
func NewStreamer(hub *Hub, encoder *Encoder, logger *zap.Logger) *Streamer {
	return &Streamer{
		hub:     hub,
		encoder: encoder,
		logger:  logger,
	}
}

// Consume encodes update once and sends it to every subscriber of unit.
func (s *Streamer) Consume(unit string, update payload.Update) {
	enc, err := s.encoder.Encode(NewUpdateMessage(unit, update))
	if err != nil {
		s.logger.Error("failed to encode update",
			zap.String("unit", unit),
			zap.Uint32("serial", uint32(update.Serial)),
			zap.Error(err),
		)
		return
	}
	s.hub.BroadcastData(unit, enc)
	s.logger.Debug("broadcast update",
		zap.String("unit", unit),
		zap.Uint32("serial", uint32(update.Serial)),
		zap.Int("bytes", len(enc.JSON)),
	)
}
