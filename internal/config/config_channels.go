package config

// ChannelsConfig contains per-channel configuration. The Meta channels share
// the app secret, verify token and Graph API settings.
type ChannelsConfig struct {
	VerifyToken  string         `json:"verify_token,omitempty" yaml:"verify_token" env:"VERIFY_TOKEN"`       // GET /webhook handshake token (default "dev-verify-token")
	AppSecret    string         `json:"app_secret,omitempty" yaml:"app_secret" env:"APP_SECRET"`             // Meta app secret for X-Hub-Signature-256 (empty = skip check)
	GraphVersion string         `json:"graph_version,omitempty" yaml:"graph_version" env:"GRAPH_VERSION"`    // default "v19.0"
	GraphBaseURL string         `json:"graph_base_url,omitempty" yaml:"graph_base_url" env:"GRAPH_BASE_URL"` // default "https://graph.facebook.com"
	WhatsApp     WhatsAppConfig `json:"whatsapp" yaml:"whatsapp" envPrefix:"WHATSAPP_"`
	Facebook     FacebookConfig `json:"facebook" yaml:"facebook" envPrefix:"FACEBOOK_"`
	Telegram     TelegramConfig `json:"telegram" yaml:"telegram" envPrefix:"TELEGRAM_"`
}

type WhatsAppConfig struct {
	PhoneNumberID string `json:"phone_number_id,omitempty" yaml:"phone_number_id" env:"PHONE_NUMBER_ID"`
	Token         string `json:"token,omitempty" yaml:"token" env:"TOKEN"` // Cloud API bearer token
}

// FacebookConfig is used by both Messenger and Instagram.
type FacebookConfig struct {
	PageAccessToken string `json:"page_access_token,omitempty" yaml:"page_access_token" env:"PAGE_ACCESS_TOKEN"`
}

type TelegramConfig struct {
	Token         string `json:"token,omitempty" yaml:"token" env:"TOKEN"`                            // bot token
	WebhookSecret string `json:"webhook_secret,omitempty" yaml:"webhook_secret" env:"WEBHOOK_SECRET"` // X-Telegram-Bot-Api-Secret-Token (empty = skip check)
	APIServer     string `json:"api_server,omitempty" yaml:"api_server" env:"API_SERVER"`             // Bot API base URL override (default https://api.telegram.org)
}
