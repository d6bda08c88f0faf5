package vidserver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/toolutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerVideoAsk(server *mcp.Server, eng *engine.Engine) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "video_ask",
		Description: "Answer a question about a previously loaded video, grounded in its transcript. Returns the answer with the indices of the transcript segments it was based on. Pass prior turns in history for follow-up questions.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input engine.VideoAskInput) (*mcp.CallToolResult, engine.VideoAskOutput, error) {
		if input.VideoID == "" {
			return nil, engine.VideoAskOutput{}, errors.New("video_id is required")
		}
		if input.Question == "" {
			return nil, engine.VideoAskOutput{}, errors.New("question is required")
		}
		if err := toolutil.Admit(eng.Limiter, "video_ask"); err != nil {
			return nil, engine.VideoAskOutput{}, err
		}

		answer, err := eng.Orchestrator.Ask(ctx, input.VideoID, input.Question, input.History)
		if err != nil {
			slog.Warn("video_ask failed", slog.String("video", input.VideoID), slog.Any("error", err))
			return nil, engine.VideoAskOutput{}, toolutil.CallerError(err)
		}

		return nil, engine.VideoAskOutput{
			VideoID: input.VideoID,
			Answer:  answer.Text,
			Sources: answer.Sources,
			ModelID: answer.ModelID,
		}, nil
	})
}
