package wa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

const snapshotTimeout = 10 * time.Second

// handle maps whatsmeow events onto session events. It runs on whatsmeow's
// event goroutine, so everything it emits is ordered.
func (s *session) handle(rawEvt any) {
	if s.closed() {
		return
	}
	switch evt := rawEvt.(type) {
	case *events.PairSuccess:
		s.logger.Info("device paired", zap.String("jid", evt.ID.String()), zap.String("platform", evt.Platform))
		s.rotateCredentials()
	case *events.Connected:
		s.rotateCredentials()
		s.emit(Event{Kind: EventOpened})
	case *events.Disconnected:
		s.rotateCredentials()
		s.emit(Event{Kind: EventClosed, Close: CloseReason{Reason: "connection lost"}})
	case *events.StreamReplaced:
		s.emit(Event{Kind: EventClosed, Close: CloseReason{Reason: "stream replaced by another client"}})
	case *events.KeepAliveTimeout:
		s.logger.Warn("keepalive timeout", zap.Int("error_count", evt.ErrorCount))
	case *events.LoggedOut:
		s.emit(Event{Kind: EventClosed, Close: CloseReason{
			Terminal: true,
			Reason:   "logged out: " + evt.Reason.String(),
		}})
	case *events.ConnectFailure:
		s.emit(Event{Kind: EventClosed, Close: CloseReason{
			Terminal: evt.Reason.IsLoggedOut(),
			Reason:   fmt.Sprintf("connect failure: %s %s", evt.Reason.String(), evt.Message),
		}})
	case *events.ClientOutdated:
		s.emit(Event{Kind: EventSetupFailed, Err: errors.New("client version outdated")})
	case *events.TemporaryBan:
		s.emit(Event{Kind: EventSetupFailed, Err: fmt.Errorf("temporary ban: %s", evt.String())})
	case *events.Message:
		if msg, ok := s.toRawMessage(s.ctx, evt, false); ok {
			s.emit(Event{Kind: EventMessagesReceived, Messages: []RawMessage{msg}})
		}
	case *events.HistorySync:
		s.handleHistorySync(evt)
	case *events.AppStateSyncComplete:
		s.rotateSyncState(evt.Name)
	}
}

// forwardQR turns the pairing channel into session events.
func (s *session) forwardQR(ch <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-s.done:
			return
		case item, ok := <-ch:
			if !ok {
				return
			}
			switch item.Event {
			case "code":
				s.emit(Event{Kind: EventPairingChallenge, Challenge: item.Code})
			case "success":
				s.logger.Info("pairing completed")
			case "timeout":
				s.emit(Event{Kind: EventClosed, Close: CloseReason{Reason: "pairing timed out"}})
			default:
				err := item.Error
				if err == nil {
					err = errors.New(item.Event)
				}
				s.emit(Event{Kind: EventSetupFailed, Err: fmt.Errorf("pairing: %w", err)})
			}
		}
	}
}

func (s *session) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}
	var batch []RawMessage
	for _, conv := range data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			s.logger.Debug("history conversation with bad jid", zap.String("id", conv.GetID()), zap.Error(err))
			continue
		}
		for _, hm := range conv.GetMessages() {
			webMsg := hm.GetMessage()
			if webMsg == nil {
				continue
			}
			parsed, err := s.client.ParseWebMessage(chatJID, webMsg)
			if err != nil {
				s.logger.Debug("skip history message", zap.String("chat", chatJID.String()), zap.Error(err))
				continue
			}
			if msg, ok := s.toRawMessage(s.ctx, parsed, true); ok {
				batch = append(batch, msg)
			}
		}
	}
	if len(batch) > 0 {
		s.logger.Info("history sync batch",
			zap.String("type", data.GetSyncType().String()),
			zap.Int("messages", len(batch)),
		)
		s.emit(Event{Kind: EventMessagesReceived, Messages: batch})
	}
}

// rotateCredentials snapshots the device database and emits it.
func (s *session) rotateCredentials() {
	ctx, cancel := context.WithTimeout(s.ctx, snapshotTimeout)
	defer cancel()
	blob, err := s.snapshotCredentials(ctx)
	if err != nil {
		s.logger.Warn("credential snapshot failed", zap.Error(err))
		return
	}
	s.emit(Event{Kind: EventCredentialsRotated, Key: KeyCreds, Blob: blob})
}

// rotateSyncState records the app state versions after a sync completes.
func (s *session) rotateSyncState(name appstate.WAPatchName) {
	ctx, cancel := context.WithTimeout(s.ctx, snapshotTimeout)
	defer cancel()
	env := syncStateEnvelope{
		Versions: make(map[string]uint64, len(appstate.AllPatchNames)),
		SyncedAt: time.Now().UnixMilli(),
	}
	for _, patch := range appstate.AllPatchNames {
		version, _, err := s.client.Store.AppState.GetAppStateVersion(ctx, string(patch))
		if err != nil {
			s.logger.Debug("app state version", zap.String("patch", string(patch)), zap.Error(err))
			continue
		}
		env.Versions[string(patch)] = version
	}
	blob, err := json.Marshal(env)
	if err != nil {
		s.logger.Warn("encode sync state", zap.Error(err))
		return
	}
	s.logger.Debug("app state synced", zap.String("patch", string(name)))
	s.emit(Event{Kind: EventCredentialsRotated, Key: KeySyncState, Blob: blob})
}
