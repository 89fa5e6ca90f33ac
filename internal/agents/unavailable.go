package agents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"trpc.group/trpc-go/trpc-agent-go/model"
)

// UnavailableReply 是交易叶子未接入远程工具时的固定回答。
const UnavailableReply = "I cannot retrieve transaction data right now: no remote transaction tool is attached to this agent."

// UnavailableModel 是未接入工具时绑定给交易叶子的模型，始终返回固定说明，不会编造数据。
type UnavailableModel struct {
	Reply string
}

// GenerateContent 实现 model.Model。
func (m *UnavailableModel) GenerateContent(ctx context.Context, _ *model.Request) (<-chan *model.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply := m.Reply
	if reply == "" {
		reply = UnavailableReply
	}
	ch := make(chan *model.Response, 1)
	ch <- &model.Response{
		ID:      "unavailable-" + uuid.NewString(),
		Object:  model.ObjectTypeChatCompletion,
		Created: time.Now().Unix(),
		Model:   m.Info().Name,
		Choices: []model.Choice{{
			Index:   0,
			Message: model.NewAssistantMessage(reply),
		}},
		Timestamp: time.Now(),
		Done:      true,
	}
	close(ch)
	return ch, nil
}

// Info 实现 model.Model。
func (m *UnavailableModel) Info() model.Info {
	return model.Info{Name: "tool-unavailable"}
}
