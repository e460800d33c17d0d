package speech

// SpeechConfig 语音服务配置（OpenAI 兼容的转写与合成接口）
type SpeechConfig struct {
	APIKey  string `json:"apiKey"`  // Bearer token
	BaseURL string `json:"baseUrl"` // e.g. https://api.openai.com/v1

	// ASR 配置
	ASRModel    string `json:"asrModel"`
	ASRLanguage string `json:"asrLanguage"` // 默认语言提示

	// TTS 配置
	TTSModel string  `json:"ttsModel"`
	TTSVoice string  `json:"ttsVoice"`
	TTSSpeed float32 `json:"ttsSpeed"`

	// 临时音频文件目录，空表示 os.TempDir()
	TempDir string `json:"tempDir"`

	// 通用配置
	Timeout int `json:"timeout"` // seconds
}
