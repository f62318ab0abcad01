package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bristolhouse/serving"
)

const (
	// MessageTypePrediction 预测成功
	MessageTypePrediction = "prediction"
	// MessageTypeError 预测失败
	MessageTypeError = "error"

	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域由 CORS 配置决定
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest WebSocket 请求帧，id 可选
type wsRequest struct {
	ID string `json:"id,omitempty"`
	serving.Request
}

// Message WebSocket 回复帧
type Message struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Data      *serving.Response `json:"data,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Status    int               `json:"status"`
}

// handlePredictWS 每个文本帧按 POST /predict 的规则处理
func (h *handlers) handlePredictWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	requestID := GetRequestID(r.Context())
	h.metrics.IncrCounter("ws_connections_total", 1, nil)
	h.logger.Info("websocket connected", zap.String("request_id", requestID))

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", zap.String("request_id", requestID), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		reply := h.predictFrame(r, payload)
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			h.logger.Warn("websocket write failed", zap.String("request_id", requestID), zap.Error(err))
			return
		}
	}
}

func (h *handlers) predictFrame(r *http.Request, payload []byte) Message {
	var req wsRequest
	decodeErr := json.Unmarshal(payload, &req)
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	msg := Message{ID: req.ID, Timestamp: time.Now().UTC()}

	var err error
	var resp *serving.Response
	switch {
	case !h.service.Ready():
		err = serving.ModelUnavailable()
	case decodeErr != nil:
		err = serving.BadRequest("invalid JSON body: "+decodeErr.Error(), decodeErr)
	default:
		resp, err = h.service.Predict(r.Context(), req.Request)
	}

	if err != nil {
		msg.Type = MessageTypeError
		msg.Status, msg.Detail = errorStatus(err)
		return msg
	}
	msg.Type = MessageTypePrediction
	msg.Status = http.StatusOK
	msg.Data = resp
	return msg
}
