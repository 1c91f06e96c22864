// Package announcer formats and delivers action notifications through a
// pluggable posting client. Delivery is best-effort: a failed or disabled
// post still yields a tweet record for the store, just without a remote id.
package announcer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"treasuryd/observability"
	"treasuryd/state"
)

// Announcement kinds.
const (
	KindDeployed      = "DEPLOYED"
	KindRotated       = "ROTATED"
	KindEmergencyExit = "EMERGENCY_EXIT"
)

// XClient posts one message and returns the remote id.
type XClient interface {
	PostTweet(ctx context.Context, text string) (string, error)
}

// Event describes an executed action to announce. Timestamp is unix seconds.
type Event struct {
	Kind         string
	Timestamp    int64
	Token        string
	PoolID       string
	Protocol     string
	FromPoolID   string
	FromProtocol string
	OldNetApyBps int
	NewNetApyBps int
	Reason       string
	TxHash       string
}

// Announcer renders events and hands them to the client.
type Announcer struct {
	client  XClient
	enabled bool
	baseURL string
	log     *slog.Logger
	metrics *observability.ControlMetrics
}

// New builds the announcer. A nil client or enabled=false selects log-only
// mode.
func New(enabled bool, explorerTxBaseURL string, client XClient, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		client:  client,
		enabled: enabled && client != nil,
		baseURL: strings.TrimSpace(explorerTxBaseURL),
		log:     logger.With("component", "announcer"),
		metrics: observability.Control(),
	}
}

// Announce formats the event and posts it. The returned record is always
// usable; err reports a delivery failure after the record was rendered.
func (a *Announcer) Announce(ctx context.Context, ev Event) (state.TweetRecord, error) {
	text := a.format(ev)
	record := state.TweetRecord{
		Timestamp: ev.Timestamp,
		Kind:      ev.Kind,
		Text:      text,
		TxHash:    ev.TxHash,
	}
	if !a.enabled {
		a.log.Info("announcement logged without posting", "kind", ev.Kind, "text", text)
		a.metrics.RecordAnnouncement(ev.Kind, "logged")
		return record, nil
	}
	id, err := a.client.PostTweet(ctx, text)
	if err != nil {
		a.metrics.RecordAnnouncement(ev.Kind, "failed")
		return record, fmt.Errorf("post announcement: %w", err)
	}
	record.RemoteID = id
	a.metrics.RecordAnnouncement(ev.Kind, "posted")
	a.log.Info("announcement posted", "kind", ev.Kind, "remote_id", id)
	return record, nil
}

func (a *Announcer) format(ev Event) string {
	var text string
	switch ev.Kind {
	case KindDeployed:
		text = fmt.Sprintf("Deployed %s into %s (%s) at %s net APY.",
			ev.Token, ev.Protocol, ev.PoolID, percent(ev.NewNetApyBps))
	case KindRotated:
		text = fmt.Sprintf("Rotated %s from %s (%s) at %s to %s (%s) at %s net APY.",
			ev.Token, ev.FromProtocol, ev.FromPoolID, percent(ev.OldNetApyBps),
			ev.Protocol, ev.PoolID, percent(ev.NewNetApyBps))
	case KindEmergencyExit:
		text = fmt.Sprintf("Emergency exit: withdrew %s from %s (%s). Reason: %s.",
			ev.Token, ev.FromProtocol, ev.FromPoolID, ev.Reason)
	default:
		text = fmt.Sprintf("%s %s", ev.Kind, ev.Token)
	}
	if ev.TxHash != "" && a.baseURL != "" {
		text += " " + a.baseURL + ev.TxHash
	}
	return text
}

func percent(bps int) string {
	return fmt.Sprintf("%.2f%%", float64(bps)/100)
}
