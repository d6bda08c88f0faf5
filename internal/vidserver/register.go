// Package vidserver exposes the video question-answering engine as MCP
// tools: video_load, video_summary, video_ask.
package vidserver

import (
	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterTools registers all video tools on the given MCP server.
func RegisterTools(server *mcp.Server, eng *engine.Engine) {
	registerVideoLoad(server, eng)
	registerVideoSummary(server, eng)
	registerVideoAsk(server, eng)
}
