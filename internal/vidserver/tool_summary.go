package vidserver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/toolutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerVideoSummary(server *mcp.Server, eng *engine.Engine) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "video_summary",
		Description: "Return the summary and key points of a previously loaded video. Served from cache when available.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input engine.VideoSummaryInput) (*mcp.CallToolResult, engine.VideoSummaryOutput, error) {
		if input.VideoID == "" {
			return nil, engine.VideoSummaryOutput{}, errors.New("video_id is required")
		}
		if err := toolutil.Admit(eng.Limiter, "video_summary"); err != nil {
			return nil, engine.VideoSummaryOutput{}, err
		}

		summary, err := eng.Orchestrator.GetSummary(ctx, input.VideoID)
		if err != nil {
			slog.Warn("video_summary failed", slog.String("video", input.VideoID), slog.Any("error", err))
			return nil, engine.VideoSummaryOutput{}, toolutil.CallerError(err)
		}

		return nil, engine.VideoSummaryOutput{
			VideoID:   input.VideoID,
			Summary:   summary.Overview,
			KeyPoints: summary.KeyPoints,
			ModelID:   summary.ModelID,
			Partial:   summary.Partial,
		}, nil
	})
}
