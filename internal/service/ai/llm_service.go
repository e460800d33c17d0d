package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/voice-chat/backend/internal/config"
)

// ErrEmptyReply 模型返回了空内容
var ErrEmptyReply = errors.New("completion returned empty content")

// CompletionError 包装补全网关的失败
type CompletionError struct {
	Cause error
}

func (e *CompletionError) Error() string {
	return "completion failed: " + e.Cause.Error()
}

func (e *CompletionError) Unwrap() error { return e.Cause }

// Service 基于 eino chain 的单轮对话补全
type Service struct {
	systemPrompt string
	chain        compose.Runnable[map[string]any, *schema.Message]
}

// NewService 使用给定模型构建 system + user 的对话链
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		systemPrompt: resolveSystemPrompt(cfg.SystemPrompt),
		chain:        runnable,
	}, nil
}

// Complete 生成对用户文本的回复
func (s *Service) Complete(ctx context.Context, text string) (string, error) {
	started := time.Now()
	response, err := s.chain.Invoke(ctx, map[string]any{
		"system": s.systemPrompt,
		"query":  text,
	})
	if err != nil {
		return "", &CompletionError{Cause: err}
	}

	reply := strings.TrimSpace(response.Content)
	if reply == "" {
		return "", &CompletionError{Cause: ErrEmptyReply}
	}

	log.Debug().
		Int("input_len", len(text)).
		Int("reply_len", len(reply)).
		Dur("elapsed", time.Since(started)).
		Msg("[ai] completion generated")
	return reply, nil
}
