package chat

import (
	"log/slog"
	"time"

	"github.com/samber/lo"
)

// Broadcaster fans a message out to every registered participant except an
// optional excluded connection. It never removes failed recipients; that is
// left to the recipient's own session.
type Broadcaster struct {
	reg          *Registry
	logger       *slog.Logger
	writeTimeout time.Duration
}

func NewBroadcaster(reg *Registry, writeTimeout time.Duration, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{reg: reg, logger: logger, writeTimeout: writeTimeout}
}

// Broadcast delivers msg and returns how many recipients accepted it.
// Writes happen outside the registry loop, one recipient at a time.
func (b *Broadcaster) Broadcast(msg string, exclude *Conn) int {
	participants, err := b.reg.Snapshot()
	if err != nil {
		b.logger.Debug("broadcast skipped", "error", err)
		return 0
	}

	recipients := lo.Filter(participants, func(p Participant, _ int) bool {
		return exclude == nil || p.Conn != exclude
	})

	delivered := 0
	for _, p := range recipients {
		if err := p.Conn.Send(msg, b.writeTimeout); err != nil {
			BroadcastFailures.Inc()
			b.logger.Warn("broadcast to recipient failed",
				"username", p.Name, "session_id", p.Conn.ID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
