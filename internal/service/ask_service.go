package service

import (
	"context"
	"fmt"
	"strings"

	"studymate-go/internal/config"
	"studymate-go/internal/model"
	"studymate-go/pkg/llm"
	"studymate-go/pkg/log"
)

// 未在配置中覆盖时使用的默认提示词。
const (
	defaultRules    = "你是一个严谨的学习助教。只根据提供的参考资料回答问题，资料中没有的内容要明确说不知道，不要编造。"
	defaultRefStart = "<参考资料>"
	defaultRefEnd   = "</参考资料>"
)

// AskResult 是一次问答的完整返回：生成的回答与支撑它的检索段落。
// 未配置生成模型时 Answer 为空，只返回段落。
type AskResult struct {
	Answer   string                 `json:"answer"`
	Passages []model.ContextPassage `json:"passages"`
}

// AskService 把检索结果拼进提示词并调用生成模型。
type AskService interface {
	Ask(ctx context.Context, ownerID uint, question string, topK int) (*AskResult, error)
}

type askService struct {
	retrieval RetrievalService
	generator llm.Client
	promptCfg config.LLMPromptConfig
}

// NewAskService 创建一个新的 AskService 实例。
func NewAskService(retrieval RetrievalService, generator llm.Client, promptCfg config.LLMPromptConfig) AskService {
	return &askService{
		retrieval: retrieval,
		generator: generator,
		promptCfg: promptCfg,
	}
}

// Ask 检索用户自己的资料并生成回答。
// 没有命中任何段落时不调用生成模型，直接返回空结果。
func (s *askService) Ask(ctx context.Context, ownerID uint, question string, topK int) (*AskResult, error) {
	passages, err := s.retrieval.Retrieve(ctx, ownerID, question, topK)
	if err != nil {
		return nil, err
	}

	result := &AskResult{Answer: "", Passages: passages}
	if len(passages) == 0 || !s.generator.Enabled() {
		return result, nil
	}

	answer, err := s.generator.Complete(ctx, s.buildMessages(question, passages))
	if err != nil {
		// 生成失败时降级为只返回检索段落，检索结果本身仍然有用
		log.Warnf("[AskService] 生成回答失败，仅返回检索段落: %v", err)
		return result, nil
	}
	result.Answer = answer
	return result, nil
}

// buildMessages 把检索段落包裹进参考资料标记，拼装 role-based 消息。
func (s *askService) buildMessages(question string, passages []model.ContextPassage) []llm.Message {
	rules := s.promptCfg.Rules
	if rules == "" {
		rules = defaultRules
	}
	refStart := s.promptCfg.RefStart
	if refStart == "" {
		refStart = defaultRefStart
	}
	refEnd := s.promptCfg.RefEnd
	if refEnd == "" {
		refEnd = defaultRefEnd
	}

	var sb strings.Builder
	sb.WriteString(refStart)
	sb.WriteString("\n")
	for i, p := range passages {
		sb.WriteString(fmt.Sprintf("[%d] 来源: %s\n%s\n\n", i+1, p.FileName, p.TextContent))
	}
	sb.WriteString(refEnd)
	sb.WriteString("\n\n问题: ")
	sb.WriteString(question)

	return []llm.Message{
		{Role: "system", Content: rules},
		{Role: "user", Content: sb.String()},
	}
}
