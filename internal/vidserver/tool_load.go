package vidserver

import (
	"context"
	"log/slog"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/toolutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerVideoLoad(server *mcp.Server, eng *engine.Engine) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "video_load",
		Description: "Load a YouTube video for question answering. Fetches the transcript, indexes it, and returns a summary with key points. Must be called before video_ask. Reloading an already-processed video is cheap (served from cache).",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input engine.VideoLoadInput) (*mcp.CallToolResult, engine.VideoLoadOutput, error) {
		if err := toolutil.Admit(eng.Limiter, "video_load"); err != nil {
			return nil, engine.VideoLoadOutput{}, err
		}

		sess, summary, err := eng.Orchestrator.Load(ctx, input.URL)
		if err != nil {
			slog.Warn("video_load failed", slog.String("url", input.URL), slog.Any("error", err))
			return nil, engine.VideoLoadOutput{}, toolutil.CallerError(err)
		}

		return nil, engine.VideoLoadOutput{
			VideoID:   sess.VideoID,
			Lang:      sess.Lang(),
			Chunks:    sess.ChunkCount(),
			Summary:   engine.TruncateAtWord(summary.Overview, 4000),
			KeyPoints: summary.KeyPoints,
			Partial:   summary.Partial,
		}, nil
	})
}
