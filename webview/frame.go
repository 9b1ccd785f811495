package webview

import (
	"github.com/Station-Manager/usbbridge"
)

// FrameType identifies the kind of frame sent over the bridge socket.
type FrameType string

const (
	// server -> client
	FrameTypeData     FrameType = "data"
	FrameTypeStatus   FrameType = "status"
	FrameTypeNavigate FrameType = "navigate"
	FrameTypeResult   FrameType = "result"

	// both directions: prompt from the server, answer from the client
	FrameTypePermission FrameType = "permission"

	// client -> server
	FrameTypeCall FrameType = "call"
)

// Methods callable by the content layer.
const (
	MethodIsConnected        = "isConnected"
	MethodUsbWrite           = "usbWrite"
	MethodLoadAssetToWebView = "loadAssetToWebView"
	MethodInternalLog        = "internalLog"
	methodInternalLogJS      = "internalLogJS"
)

// Frame is the envelope exchanged with the page over the WebSocket.
type Frame struct {
	Type    FrameType                   `json:"type"`
	ID      string                      `json:"id,omitempty"`
	Payload string                      `json:"payload,omitempty"` // base64 data frame
	Text    string                      `json:"text,omitempty"`
	Path    string                      `json:"path,omitempty"`
	Device  *usbbridge.DeviceDescriptor `json:"device,omitempty"`
	Granted *bool                       `json:"granted,omitempty"`
	Method  string                      `json:"method,omitempty"`
	Args    []string                    `json:"args,omitempty"`
	Result  any                         `json:"result,omitempty"`
	Error   string                      `json:"error,omitempty"`
}
