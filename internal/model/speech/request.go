package speech

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID string `json:"sessionId"`
	AudioData []byte `json:"-"`
	Format    string `json:"format"`   // webm, wav, m4a; empty means sniff
	Language  string `json:"language"` // id, en, zh, ...
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"` // empty means configured voice
	Speed     float32 `json:"speed"` // 0 means configured speed
}
