package app

import (
	"context"
	"encoding/json"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/metrics"
	"realtime_chat_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const (
	// frames buffered per connection before events are dropped
	sendBuffer   = 256
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// ChatWebsocketHandler websocket 入口, one ChatSession per connection
type ChatWebsocketHandler struct {
	svc *ChatService
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(svc *ChatService) *ChatWebsocketHandler {
	return &ChatWebsocketHandler{svc: svc}
}

// HandleConnection 是 WebSocket 連線的進入點
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	memberID, _ := conn.Locals(middlewares.TokenMemberID).(string)
	if memberID == "" {
		closeWebSocketConnection(conn, websocket.ClosePolicyViolation, "missing member")
		return
	}
	log := logger.Log.With(zap.String("userID", memberID))
	log.Info("websocket connected")

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan interface{}, sendBuffer)

	// events never block the bus; a full buffer drops the frame
	push := func(frame interface{}) {
		select {
		case out <- frame:
		case <-ctx.Done():
		default:
			metrics.EventsDropped.WithLabelValues("slow_consumer").Inc()
			log.Warn("websocket buffer full, event dropped")
		}
	}
	respond := func(resp domain.WSResponse) {
		select {
		case out <- resp:
		case <-ctx.Done():
		}
	}

	session, err := h.svc.NewSession(memberID, push)
	if err != nil {
		log.Error("open session", zap.Error(err))
		cancel()
		closeWebSocketConnection(conn, websocket.CloseInternalServerErr, "session unavailable")
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(ctx, conn, out, log)
	}()

	defer func() {
		session.Close()
		cancel()
		<-done
		conn.Close()
		log.Info("websocket close")
	}()

	//client發出close
	//fiber會自動處理(在read msg 回傳err),故需要SetCloseHandler另外接出
	conn.SetCloseHandler(func(code int, text string) error {
		log.Debug("websocket close frame", zap.Int("code", code), zap.String("text", text))
		return nil
	})

	//server發出ping之後client連線正常會回pong, 視為 presence heartbeat
	conn.SetPongHandler(func(string) error {
		hctx, hcancel := context.WithTimeout(ctx, writeWait)
		defer hcancel()
		if _, err := session.Heartbeat(hctx); err != nil {
			log.Warn("heartbeat on pong", zap.Error(err))
		}
		return nil
	})

	if _, err := session.Heartbeat(ctx); err != nil {
		log.Warn("initial heartbeat", zap.Error(err))
	}

	for {
		// 1. 讀取前端訊息
		mt, message, err := conn.ReadMessage()
		if err != nil {
			// 檢查是否為 Close 正常結束
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				log.Info("connection closed", zap.Error(err))
			} else {
				//直接斷線 1006
				log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			respond(errorResponse("", "", domain.NewValidationError("websocket", "only text frames are supported")))
			continue
		}
		respond(h.textMessageAction(ctx, session, message))
	}
}

// writeLoop is the only writer of conn.
func (h *ChatWebsocketHandler) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan interface{}, log *logger.LogInfo) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-out:
			b, err := json.Marshal(frame)
			if err != nil {
				log.Error("marshal frame", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Warn("write message error", zap.Error(err))
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				log.Warn("ping error", zap.Error(err))
				conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *ChatWebsocketHandler) textMessageAction(ctx context.Context, s *ChatSession, msg []byte) domain.WSResponse {
	var req domain.WSRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return errorResponse("", "", domain.NewValidationError("websocket", "malformed request"))
	}

	resp := domain.WSResponse{Action: req.Action, RequestID: req.RequestID, Payload: map[string]interface{}{}}
	var err error

	switch domain.Action(req.Action) {
	case domain.ListConversations:
		var list []domain.ConversationSummary
		if list, err = s.ListConversations(ctx, req.IncludeArchived); err == nil {
			resp.Payload["conversations"] = list
		}

	//建立 direct / group / channel
	case domain.CreateConversation:
		var conv *domain.Conversation
		var created bool
		conv, created, err = s.CreateConversation(ctx, domain.CreateConversationInput{
			Type:           domain.ConversationType(req.Type),
			ParticipantIDs: req.ParticipantIDs,
			Name:           req.Name,
			Description:    req.Description,
			IsPrivate:      req.IsPrivate,
		})
		if err == nil {
			resp.Payload["conversation"] = conv
			resp.Payload["created"] = created
		}

	//進入聊天室, 讀取最新訊息並標記已讀
	case domain.SelectConversation:
		var msgs []domain.Message
		if msgs, err = s.SelectConversation(ctx, req.ConversationID); err == nil {
			resp.Payload["messages"] = msgs
		}

	case domain.ListMessages:
		var msgs []domain.Message
		opts := domain.ListOptions{Limit: req.Limit, Before: req.Before}
		if msgs, err = s.ListMessages(ctx, req.ConversationID, opts); err == nil {
			resp.Payload["messages"] = msgs
		}

	case domain.ListThread:
		var msgs []domain.Message
		if msgs, err = s.ListThread(ctx, req.MessageID, req.Limit); err == nil {
			resp.Payload["messages"] = msgs
		}

	//傳送資料, message 寫入 db 後經 bus 推播給聊天室內的人
	case domain.SendMessage:
		var res *domain.SendResult
		res, err = s.Send(ctx, domain.SendMessageInput{
			ConversationID:   req.ConversationID,
			Content:          req.Content,
			Type:             domain.MessageType(req.MessageType),
			ParentMessageID:  req.ParentMessageID,
			ReplyToMessageID: req.ReplyToMessageID,
			Attachments:      req.Attachments,
		})
		if err == nil {
			resp.Payload["message"] = res.Message
			if len(res.FailedAttachments) > 0 {
				resp.Payload["failed_attachments"] = res.FailedAttachments
			}
		}

	case domain.EditMessage:
		err = messagePayload(resp.Payload, func() (*domain.Message, error) {
			return s.Edit(ctx, req.MessageID, req.Content)
		})

	case domain.DeleteMessage:
		err = messagePayload(resp.Payload, func() (*domain.Message, error) {
			return s.Delete(ctx, req.MessageID)
		})

	case domain.AddReaction:
		err = messagePayload(resp.Payload, func() (*domain.Message, error) {
			return s.AddReaction(ctx, req.MessageID, req.Emoji)
		})

	case domain.RemoveReaction:
		err = messagePayload(resp.Payload, func() (*domain.Message, error) {
			return s.RemoveReaction(ctx, req.MessageID, req.Emoji)
		})

	//讀取訊息 將未讀訊息改為已讀
	case domain.MarkRead:
		err = s.MarkRead(ctx, req.ConversationID, time.Time{})

	case domain.Search:
		var results []SearchResult
		if results, err = s.Search(ctx, req.Query, req.Limit); err == nil {
			resp.Payload["results"] = results
		}

	case domain.SetTyping:
		err = s.SetTyping(ctx, req.ConversationID, req.IsTyping)

	case domain.ActiveTypersAction:
		var ids []string
		if ids, err = s.ActiveTypers(ctx, req.ConversationID); err == nil {
			resp.Payload["user_ids"] = ids
		}

	case domain.SetPresence:
		var rec domain.PresenceRecord
		if rec, err = s.SetPresence(ctx, domain.PresenceStatus(req.Status), req.CustomStatus); err == nil {
			resp.Payload["presence"] = rec
		}

	case domain.GetPresence:
		var statuses map[string]domain.PresenceStatus
		if statuses, err = s.Presence(ctx, req.UserIDs); err == nil {
			resp.Payload["statuses"] = statuses
		}

	case domain.Heartbeat:
		var rec domain.PresenceRecord
		if rec, err = s.Heartbeat(ctx); err == nil {
			resp.Payload["presence"] = rec
		}

	case domain.ArchiveConversation:
		err = conversationPayload(resp.Payload, func() (*domain.Conversation, error) {
			return s.Archive(ctx, req.ConversationID)
		})

	case domain.JoinConversation:
		err = conversationPayload(resp.Payload, func() (*domain.Conversation, error) {
			return s.Join(ctx, req.ConversationID)
		})

	case domain.LeaveConversation:
		err = conversationPayload(resp.Payload, func() (*domain.Conversation, error) {
			return s.Leave(ctx, req.ConversationID)
		})

	case domain.AddParticipant:
		err = conversationPayload(resp.Payload, func() (*domain.Conversation, error) {
			return s.AddParticipant(ctx, req.ConversationID, req.UserID)
		})

	//斷線重連: 重新訂閱並重新抓取狀態
	case domain.Reconnect:
		if err = s.Reconnect(ctx); err == nil {
			resp.Payload["conversations"] = s.Conversations()
			resp.Payload["messages"] = s.Messages()
		}

	default:
		err = domain.NewValidationError("websocket", "unknown action "+req.Action)
	}

	if err != nil {
		logger.Log.Warn("websocket action failed",
			zap.String("MemberID", s.UserID()),
			zap.String("Action", req.Action),
			zap.Error(err))
		return errorResponse(req.Action, req.RequestID, err)
	}
	resp.Success = true
	return resp
}

func messagePayload(payload map[string]interface{}, fn func() (*domain.Message, error)) error {
	m, err := fn()
	if err == nil {
		payload["message"] = m
	}
	return err
}

func conversationPayload(payload map[string]interface{}, fn func() (*domain.Conversation, error)) error {
	c, err := fn()
	if err == nil {
		payload["conversation"] = c
	}
	return err
}

func errorResponse(action, requestID string, err error) domain.WSResponse {
	kind := domain.KindOf(err)
	return domain.WSResponse{
		Action:    action,
		RequestID: requestID,
		Success:   false,
		Error:     err.Error(),
		ErrorKind: kind,
		Retryable: kind == domain.KindTransient,
	}
}

func closeWebSocketConnection(conn *websocket.Conn, code int, reason string) {
	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
		logger.Log.Warn("send close message", zap.Error(err))
	}
	conn.Close()
}
