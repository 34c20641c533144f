package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/moyuka/groundedchat/internal/models"
)

// fakeChatModel replays scripted responses and records every Generate call.
type fakeChatModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	err       error
	calls     [][]*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]*schema.Message, len(in))
	copy(copied, in)
	f.calls = append(f.calls, copied)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return schema.AssistantMessage("ok", nil), nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func (f *fakeChatModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// charCounter makes token math exact in tests: one token per byte.
type charCounter struct{}

func (charCounter) Count(text string) int { return len(text) }

type fakeRetriever struct {
	passages   []models.Passage
	err        error
	gotQuery   string
	gotK       int
	gotRanking string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, k int, rankingConfiguration string) ([]models.Passage, error) {
	f.gotQuery = query
	f.gotK = k
	f.gotRanking = rankingConfiguration
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}
