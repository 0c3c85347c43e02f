// Package lark adapts the Lark open platform SDK: IM messages out, card
// callbacks in.
package lark

import (
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"go.uber.org/zap"
)

// Receive id types accepted by the IM API
const (
	ReceiveByUserID = "user_id"
	ReceiveByOpenID = "open_id"
	ReceiveByEmail  = "email"
)

// Config holds Lark client configuration
type Config struct {
	AppID     string
	AppSecret string

	// ReceiveIDType says how directory employee ids map to Lark recipients.
	// They are Lark user ids unless configured otherwise.
	ReceiveIDType string
}

// SDKClient holds one Lark API client per process. The SDK caches the
// tenant token itself.
type SDKClient struct {
	client        *lark.Client
	appID         string
	receiveIDType string
}

// NewSDKClient creates a Lark client. SDK logging is kept at warn level
// because message sends log through zap.
func NewSDKClient(cfg Config, logger *zap.Logger) *SDKClient {
	receiveIDType := cfg.ReceiveIDType
	if receiveIDType == "" {
		receiveIDType = ReceiveByUserID
	}

	logger.Info("Lark client configured",
		zap.String("app_id", cfg.AppID),
		zap.String("receive_id_type", receiveIDType))

	return &SDKClient{
		client: lark.NewClient(cfg.AppID, cfg.AppSecret,
			lark.WithLogLevel(larkcore.LogLevelWarn),
			lark.WithEnableTokenCache(true),
		),
		appID:         cfg.AppID,
		receiveIDType: receiveIDType,
	}
}

// GetClient returns the underlying Lark SDK client
func (c *SDKClient) GetClient() *lark.Client {
	return c.client
}

// GetAppID returns the app ID
func (c *SDKClient) GetAppID() string {
	return c.appID
}

// ReceiveIDType returns how recipients are addressed
func (c *SDKClient) ReceiveIDType() string {
	return c.receiveIDType
}
