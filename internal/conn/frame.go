package conn

import (
	"encoding/json"
	"net/http"

	"github.com/dcadea/eventfabric/internal/apperr"
	"github.com/dcadea/eventfabric/internal/bus"
)

// outboundFrame mirrors the wire shape of spec §6: a JSON object with a
// stable `type` discriminant and variant-specific fields, reusing the
// field names spec §6 pins (`message`, `id`, `talkId`/`last_message`,
// `subs`).
type outboundFrame struct {
	Type        string             `json:"type"`
	Message     any                `json:"message,omitempty"`
	ID          any                `json:"id,omitempty"`
	TalkID      any                `json:"talkId,omitempty"`
	LastMessage any                `json:"last_message,omitempty"`
	Subs        any                `json:"subs,omitempty"`
	Error       *errorFramePayload `json:"error,omitempty"`
}

type errorFramePayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
	Msg    string `json:"message"`
}

// encodeEvent renders one bus.Event into the outbound wire frame of spec
// §6. An event with no recognized Notification or Message variant set
// encodes as a frame of type "unknown" and is the caller's responsibility
// to avoid sending.
func encodeEvent(event bus.Event) ([]byte, error) {
	frame := toOutboundFrame(event)
	return json.Marshal(frame)
}

func toOutboundFrame(event bus.Event) outboundFrame {
	switch {
	case event.Message != nil:
		m := event.Message
		switch {
		case m.New != nil:
			return outboundFrame{Type: "message.new", Message: m.New}
		case m.Updated != nil:
			return outboundFrame{Type: "message.updated", Message: m.Updated.Msg}
		case m.Deleted != nil:
			return outboundFrame{Type: "message.deleted", ID: *m.Deleted}
		case m.Seen != nil:
			return outboundFrame{Type: "message.seen", Message: m.Seen}
		}
	case event.Notification != nil:
		n := event.Notification
		switch {
		case n.NewTalk != nil:
			return outboundFrame{Type: "notification.newTalk", Message: n.NewTalk}
		case n.NewMessage != nil:
			return outboundFrame{Type: "notification.newMessage", TalkID: n.NewMessage.TalkID, LastMessage: n.NewMessage.LastMessage}
		case n.OnlineContacts != nil:
			return outboundFrame{Type: "notification.onlineContacts", Subs: n.OnlineContacts.Subs}
		case n.Error != nil:
			return outboundFrame{Type: "notification.error", Error: &errorFramePayload{Code: n.Error.Code, Reason: n.Error.Reason, Msg: n.Error.Msg}}
		}
	}
	return outboundFrame{Type: "unknown"}
}

// errorEvent builds the bus.Event carrying a recoverable service error
// back to its originating user (spec §7: "an error notification event").
func errorEvent(err error) bus.Event {
	code, reason, msg := "internal", "", err.Error()
	if appErr, ok := err.(*apperr.Error); ok {
		code = appErr.Code.String()
		reason = string(appErr.Reason)
		msg = appErr.Msg
	}
	return bus.Event{Notification: &bus.Notification{Error: &bus.ErrorInfo{Code: code, Reason: reason, Msg: msg}}}
}

// errorResponse maps a service error to the HTTP status and JSON body the
// REST contact endpoints return, reusing the same apperr taxonomy the
// WebSocket path maps to errorFramePayload.
func errorResponse(err error) (int, errorFramePayload) {
	appErr, ok := err.(*apperr.Error)
	if !ok {
		return http.StatusInternalServerError, errorFramePayload{Code: "internal", Msg: err.Error()}
	}
	payload := errorFramePayload{Code: appErr.Code.String(), Reason: string(appErr.Reason), Msg: appErr.Msg}
	switch appErr.Code {
	case apperr.Unauthorized:
		return http.StatusUnauthorized, payload
	case apperr.Forbidden:
		return http.StatusForbidden, payload
	case apperr.NotFound:
		return http.StatusNotFound, payload
	case apperr.Conflict:
		return http.StatusConflict, payload
	case apperr.Invalid:
		return http.StatusBadRequest, payload
	case apperr.Transient:
		return http.StatusServiceUnavailable, payload
	default:
		return http.StatusInternalServerError, payload
	}
}
