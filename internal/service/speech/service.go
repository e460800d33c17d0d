package speech

import (
	"context"

	speechmodel "github.com/zhouzirui/voice-chat/backend/internal/model/speech"
)

// Service 语音服务核心业务逻辑：转写网关与合成网关的门面
type Service struct {
	config    *speechmodel.SpeechConfig
	asrClient *WhisperClient
	ttsClient *TTSClient
}

// NewService 创建语音服务实例
func NewService(config *speechmodel.SpeechConfig) *Service {
	return &Service{
		config:    config,
		asrClient: NewWhisperClient(config, nil),
		ttsClient: NewTTSClient(config, nil),
	}
}

// TranscribeAudio 语音转文字
func (s *Service) TranscribeAudio(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	return s.asrClient.Transcribe(ctx, req)
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	return s.ttsClient.Synthesize(ctx, req)
}

// TranscribeBuffer 语音转文字（使用字节数组）。format 为空时按文件头猜测格式。
func (s *Service) TranscribeBuffer(ctx context.Context, sessionID string, audioData []byte, format, language string) (*speechmodel.ASRResponse, error) {
	req := &speechmodel.ASRRequest{
		SessionID: sessionID,
		AudioData: audioData,
		Format:    format,
		Language:  language,
	}

	return s.TranscribeAudio(ctx, req)
}

// SynthesizeToBuffer 文字转语音（返回字节数组），使用配置中的声音
func (s *Service) SynthesizeToBuffer(ctx context.Context, sessionID, text string) (*speechmodel.TTSResponse, error) {
	req := &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
	}

	return s.SynthesizeSpeech(ctx, req)
}
