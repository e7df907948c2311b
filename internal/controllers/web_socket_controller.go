package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"control_miles/internal/detection"
)

const writeWait = 10 * time.Second

// upgrader configures the WebSocket connection.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the device app is not served from a browser origin
	},
}

// deviceMessage is what the device streams over /ws/device: either a
// position fix or an accelerometer reading.
type deviceMessage struct {
	Type string `json:"type"` // "position" (default) or "motion"
}

// HandleEventsWebSocket streams detector events (trip start/end, processed
// samples, motion hints) to the connected client.
func HandleEventsWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade WebSocket connection.")
		return
	}
	defer conn.Close()

	client := deps.Hub.Register()
	defer deps.Hub.Unregister(client)

	logrus.WithField("conn_ptr", fmt.Sprintf("%p", conn)).Info("Event WebSocket connection established.")

	// The reader only notices the close; clients have nothing to say here.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.WithError(err).Warn("Error reading from event WebSocket.")
				}
				return
			}
		}
	}()

	for {
		select {
		case payload, ok := <-client.Send:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logrus.WithError(err).Warn("Failed to send event to client.")
				return
			}
		case <-closed:
			logrus.WithField("conn_ptr", fmt.Sprintf("%p", conn)).Info("Event WebSocket connection closed.")
			return
		}
	}
}

// HandleDeviceWebSocket accepts the device's position and motion stream and
// hands it to the running session. Every message is answered with an ack or
// an error.
func HandleDeviceWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade WebSocket connection.")
		return
	}
	defer conn.Close()

	logrus.WithField("conn_ptr", fmt.Sprintf("%p", conn)).Info("Device WebSocket connection established.")
	for {
		messageType, p, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Info("Device WebSocket closed.")
			} else {
				logrus.WithError(err).Error("Error reading device WebSocket message.")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := conn.WriteJSON(processDeviceMessage(p)); err != nil {
			logrus.WithError(err).Warn("Failed to acknowledge device message.")
			return
		}
	}
}

func processDeviceMessage(p []byte) gin.H {
	var head deviceMessage
	if err := json.Unmarshal(p, &head); err != nil {
		return gin.H{"error": "invalid message: " + err.Error()}
	}

	switch head.Type {
	case "motion":
		var a detection.Acceleration
		if err := json.Unmarshal(p, &a); err != nil {
			return gin.H{"error": "invalid motion reading: " + err.Error()}
		}
		if err := deps.Feed.PushMotion(a); err != nil {
			return gin.H{"error": err.Error()}
		}
		return gin.H{"status": "accepted", "type": "motion"}
	case "", "position":
		var msg positionMessage
		if err := json.Unmarshal(p, &msg); err != nil {
			logrus.WithError(err).WithField("payload", string(p)).Warn("Invalid position message from device.")
			return gin.H{"error": "invalid position: " + err.Error()}
		}
		s, err := msg.sample()
		if err != nil {
			return gin.H{"error": err.Error()}
		}
		if err := deps.Feed.Push(s); err != nil {
			return gin.H{"error": err.Error()}
		}
		return gin.H{"status": "accepted", "type": "position", "timestamp": s.TimestampMs}
	default:
		return gin.H{"error": fmt.Sprintf("unknown message type %q", head.Type)}
	}
}
