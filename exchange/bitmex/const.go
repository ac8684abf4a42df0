package bitmex

import "time"

const (
	MainnetHost = "https://www.bitmex.com"
	TestnetHost = "https://testnet.bitmex.com"

	MainnetRealtime = "wss://www.bitmex.com/realtime"
	TestnetRealtime = "wss://testnet.bitmex.com/realtime"

	APIPrefix    = "/api/v1"
	RealtimePath = "/realtime"

	Version = "0.1.0"
)

const (
	DefaultOrderIDPrefix = "mm_bitmex_"
	// clOrdID is limited to 36 chars; 22 of them are the base64 uuid.
	MaxOrderIDPrefixLen = 13

	DefaultTimeout     = 3 * time.Second
	DefaultAuthTimeout = 10 * time.Second
)

// request headers
const (
	HeaderAPIKey       = "api-key"
	HeaderAPIExpires   = "api-expires"
	HeaderAPISignature = "api-signature"
	HeaderAccessToken  = "access-token"
)

const (
	pathLogin         = "/user/login"
	pathOrder         = "/order"
	pathPosition      = "/position"
	pathAPIKey        = "/apiKey"
	pathAPIKeyEnable  = "/apiKey/enable"
	pathAPIKeyDisable = "/apiKey/disable"
)
