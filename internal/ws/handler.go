package ws

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"chatsync/internal/domain"
	"chatsync/internal/security"
	"chatsync/internal/service"
	"chatsync/internal/wire"
)

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// extractToken pulls the bearer token from the Authorization header or the
// Sec-WebSocket-Protocol list (browser clients cannot set headers on the
// upgrade request).
func extractToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return ""
}

// MakeHandler returns the HTTP handler for the /ws endpoint. It
// authenticates the upgrade via bearer token, registers the connection and
// then runs one dispatch loop per connection, so events from the same
// client are handled strictly in arrival order:
//
//	message_send                        -> delivery pipeline
//	message_read / message_delete       -> status transitions
//	reaction_toggle                     -> reaction coordinator
//	typing_start / typing_stop          -> typing signal manager
//	query_presence                      -> registry snapshot reply
//	call_* (invite/accept/reject/end,
//	        offer/answer/ice)           -> call signaling coordinator
func MakeHandler(
	hub *Hub,
	tokens *security.TokenService,
	messages *service.MessageService,
	typing *service.TypingService,
	reactions *service.ReactionService,
	calls *service.CallService,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin:  checkOrigin,
		Subprotocols: []string{"bearer"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr := extractToken(r)
		if tokenStr == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		identity, err := tokens.Subject(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hub.Register(identity, conn)
		defer func() {
			// Tear down typing and call state only for a real disconnect.
			// A reader that exited because a fresh connection superseded
			// this handle leaves the identity reachable, and its live
			// calls must survive the reconnect.
			if hub.Unregister(identity, conn) {
				typing.StopAll(identity)
				calls.Disconnected(identity)
			}
		}()

		ctx := r.Context()
		for {
			var env wire.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				break
			}

			switch env.Type {

			case wire.EventConnectAnnounce:
				var p wire.ConnectAnnounce
				if err := env.Decode(&p); err != nil || (p.Identity != "" && p.Identity != identity) {
					sendError(hub, identity, "announce identity does not match token")
				}

			case wire.EventQueryPresence:
				var p wire.QueryPresence
				if err := env.Decode(&p); err != nil || p.Identity == "" {
					sendError(hub, identity, "query_presence requires identity")
					continue
				}
				rec := hub.Status(p.Identity)
				hub.Emit(identity, wire.EventPresenceStatus, wire.PresenceChanged{
					Identity:  rec.Identity,
					Reachable: rec.Reachable,
					LastSeen:  rec.LastSeen,
				})

			case wire.EventMessageSend:
				var p wire.MessageSend
				if err := env.Decode(&p); err != nil || p.ReceiverID == "" || (p.Content == "" && p.MediaURL == "") {
					sendError(hub, identity, "message_send requires receiver_id and content or media")
					continue
				}
				provisional := messages.Compose(service.SendInput{
					SenderID:      identity,
					ReceiverID:    p.ReceiverID,
					Content:       p.Content,
					ContentType:   p.ContentType,
					MediaURL:      p.MediaURL,
					ProvisionalID: p.ProvisionalID,
				})
				hub.Emit(identity, wire.EventMessagePending, wire.MessagePending{Message: provisional})
				if _, err := messages.Dispatch(ctx, provisional); err != nil {
					// The failed status was already surfaced by the pipeline.
					log.Printf("ws: dispatch message from %s: %v", identity, err)
				}

			case wire.EventMessageRead:
				var p wire.MessageRead
				if err := env.Decode(&p); err != nil || len(p.MessageIDs) == 0 {
					continue
				}
				if err := messages.MarkRead(ctx, identity, p.ConversationID, p.MessageIDs); err != nil {
					log.Printf("ws: mark read for %s: %v", identity, err)
					sendError(hub, identity, "failed to mark messages as read")
				}

			case wire.EventMessageDelete:
				var p wire.MessageDelete
				if err := env.Decode(&p); err != nil || p.MessageID == "" {
					continue
				}
				if err := messages.Delete(ctx, identity, p.MessageID); err != nil {
					sendError(hub, identity, deleteErrorMessage(err))
				}

			case wire.EventReactionToggle:
				var p wire.ReactionToggle
				if err := env.Decode(&p); err != nil || p.MessageID == "" || p.Emoji == "" {
					continue
				}
				if _, err := reactions.Toggle(ctx, p.MessageID, identity, p.Emoji); err != nil {
					log.Printf("ws: toggle reaction for %s: %v", identity, err)
					sendError(hub, identity, "failed to update reaction")
				}

			case wire.EventTypingStart, wire.EventTypingStop:
				var p wire.TypingSignal
				if err := env.Decode(&p); err != nil {
					continue
				}
				if env.Type == wire.EventTypingStart {
					typing.Start(p.ConversationID, identity, p.ReceiverID)
				} else {
					typing.Stop(p.ConversationID, identity, p.ReceiverID)
				}

			case wire.EventCallInvite:
				var p wire.CallInvite
				if err := env.Decode(&p); err != nil {
					continue
				}
				if _, err := calls.Invite(identity, p); err != nil {
					sendError(hub, identity, inviteErrorMessage(err))
				}

			case wire.EventCallAccept:
				var p wire.CallAccept
				if err := env.Decode(&p); err != nil || p.CallID == "" {
					continue
				}
				if err := calls.Accept(identity, p); err != nil {
					log.Printf("ws: accept call %s by %s: %v", p.CallID, identity, err)
				}

			case wire.EventCallReject, wire.EventCallEnd:
				var p wire.CallRef
				if err := env.Decode(&p); err != nil || p.CallID == "" {
					continue
				}
				var err error
				if env.Type == wire.EventCallReject {
					err = calls.Reject(identity, p.CallID)
				} else {
					err = calls.End(identity, p.CallID)
				}
				if err != nil {
					log.Printf("ws: %s call %s by %s: %v", env.Type, p.CallID, identity, err)
				}

			case wire.EventCallOffer, wire.EventCallAnswer, wire.EventCallIce:
				var p wire.CallPayload
				if err := env.Decode(&p); err != nil || p.CallID == "" {
					sendError(hub, identity, "call signaling requires call_id")
					continue
				}
				if err := calls.Relay(identity, env.Type, p); err != nil {
					log.Printf("ws: relay %s for call %s: %v", env.Type, p.CallID, err)
				}

			default:
				log.Printf("ws: unknown event type %q from %s", env.Type, identity)
			}
		}
	}
}

func inviteErrorMessage(err error) string {
	if errors.Is(err, domain.ErrConflict) {
		return "call id is already in use"
	}
	return "call_invite requires a receiver_id"
}

func deleteErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return "only the sender can delete a message"
	case errors.Is(err, domain.ErrNotFound):
		return "message not found"
	default:
		return "failed to delete message"
	}
}

func sendError(hub *Hub, identity, msg string) {
	hub.Emit(identity, wire.EventError, wire.Error{Message: msg})
}
