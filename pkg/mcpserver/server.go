// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcpserver exposes the memory services as MCP tools over stdio,
// so agent runtimes can call them like any other tool provider.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/DeL1215/kirox-memory/pkg/chatmem"
	"github.com/DeL1215/kirox-memory/pkg/errors"
	"github.com/DeL1215/kirox-memory/pkg/kb"
)

// Server wraps the mcp-go server around the chat and knowledge services.
type Server struct {
	mcpServer *server.MCPServer
	chat      *chatmem.Service
	kb        *kb.Service
	logger    *slog.Logger
}

// New creates the MCP server and registers every memory tool.
func New(name, version string, chat *chatmem.Service, knowledge *kb.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(name, version),
		chat:      chat,
		kb:        knowledge,
		logger:    logger,
	}
	s.registerChatTools()
	s.registerKnowledgeTools()
	return s
}

// ServeStdio serves MCP over stdin/stdout until the peer disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

type handlerFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// register wires one tool with JSON responses and the error taxonomy
// mapped onto tool errors.
func (s *Server) register(tool mcp.Tool, handler handlerFunc) {
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		out, err := handler(ctx, args)
		if err != nil {
			s.logger.Warn("tool call failed", "tool", tool.Name, "error", err)
			return mcp.NewToolResultError(toolError(err)), nil
		}
		body, err := json.Marshal(out)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode response: %v", err)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	})
}

func (s *Server) registerChatTools() {
	s.register(mcp.NewTool("add_chat",
		mcp.WithDescription("Store one conversation turn in semantic chat memory."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner of the conversation.")),
		mcp.WithString("robot_id", mcp.Required(), mcp.Description("Agent the conversation belongs to.")),
		mcp.WithString("user_msg", mcp.Description("The user's message.")),
		mcp.WithString("tool_msg", mcp.Description("Intermediate tool output.")),
		mcp.WithString("ai_msg", mcp.Description("The agent's reply.")),
		mcp.WithString("image_base64", mcp.Description("Optional attached image, base64.")),
	), func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return s.chat.AddChat(ctx, chatmem.AddChatRequest{
			UserID:      argString(args, "user_id"),
			RobotID:     argString(args, "robot_id"),
			UserMsg:     argString(args, "user_msg"),
			ToolMsg:     argString(args, "tool_msg"),
			AIMsg:       argString(args, "ai_msg"),
			ImageBase64: argString(args, "image_base64"),
		})
	})

	s.register(mcp.NewTool("search_chat",
		mcp.WithDescription("Semantically search stored conversation turns."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language query.")),
		mcp.WithString("user_id", mcp.Required()),
		mcp.WithString("robot_id", mcp.Required()),
		mcp.WithNumber("top_k", mcp.Description("Maximum hits to return, default 5.")),
	), func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		topK := argInt(args, "top_k", 5)
		return s.chat.SearchChat(ctx, argString(args, "query"),
			argString(args, "user_id"), argString(args, "robot_id"), topK)
	})

	s.register(mcp.NewTool("get_chat_history",
		mcp.WithDescription("Return the most recent conversation turns, newest first."),
		mcp.WithString("user_id", mcp.Required()),
		mcp.WithString("robot_id", mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Maximum rows to return, default 20.")),
	), func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return s.chat.GetHistory(ctx, argString(args, "user_id"),
			argString(args, "robot_id"), argInt(args, "limit", 0))
	})

	s.register(mcp.NewTool("chat_stats_7d",
		mcp.WithDescription("Count chat turns per day over the trailing seven days, oldest first."),
		mcp.WithString("user_id", mcp.Required()),
		mcp.WithString("robot_id", mcp.Required()),
	), func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return s.chat.Stats7d(ctx, argString(args, "user_id"), argString(args, "robot_id"))
	})

	s.register(mcp.NewTool("delete_chat",
		mcp.WithDescription("Delete one stored conversation turn by id."),
		mcp.WithNumber("chat_id", mcp.Required()),
	), func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		id, err := argID(args, "chat_id")
		if err != nil {
			return nil, err
		}
		if err := s.chat.DeleteChat(ctx, id); err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": id}, nil
	})
}

func (s *Server) registerKnowledgeTools() {
	s.register(mcp.NewTool("add_knowledge",
		mcp.WithDescription("Store one reference document in the knowledge base."),
		mcp.WithString("robot_id", mcp.Required()),
		mcp.WithString("text", mcp.Required(), mcp.Description("Document body.")),
		mcp.WithString("title", mcp.Description("Optional short title.")),
		mcp.WithString("source", mcp.Description("Optional provenance, e.g. a URL.")),
	), func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return s.kb.AddKnowledge(ctx, kb.AddKnowledgeRequest{
			RobotID: argString(args, "robot_id"),
			Title:   argString(args, "title"),
			Source:  argString(args, "source"),
			Text:    argString(args, "text"),
		})
	})

	s.register(mcp.NewTool("search_knowledge",
		mcp.WithDescription("Semantically search the knowledge base."),
		mcp.WithString("query", mcp.Required()),
		mcp.WithString("robot_id", mcp.Description("Restrict hits to one robot; empty searches everything.")),
		mcp.WithNumber("top_k", mcp.Description("Maximum hits to return, default 5.")),
	), func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return s.kb.SearchKnowledge(ctx, argString(args, "query"),
			argString(args, "robot_id"), argInt(args, "top_k", 5))
	})

	s.register(mcp.NewTool("get_knowledge",
		mcp.WithDescription("Fetch one knowledge document by id."),
		mcp.WithNumber("doc_id", mcp.Required()),
	), func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		id, err := argID(args, "doc_id")
		if err != nil {
			return nil, err
		}
		return s.kb.GetKnowledge(ctx, id)
	})

	s.register(mcp.NewTool("list_knowledge",
		mcp.WithDescription("List knowledge documents, newest first."),
		mcp.WithString("robot_id", mcp.Description("Restrict to one robot; empty lists everything.")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows to return, default 50.")),
	), func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return s.kb.ListKnowledge(ctx, argString(args, "robot_id"), argInt(args, "limit", 0))
	})

	s.register(mcp.NewTool("delete_knowledge",
		mcp.WithDescription("Delete one knowledge document by id."),
		mcp.WithNumber("doc_id", mcp.Required()),
	), func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		id, err := argID(args, "doc_id")
		if err != nil {
			return nil, err
		}
		if err := s.kb.DeleteKnowledge(ctx, id); err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": id}, nil
	})
}

// toolError renders an error for the MCP peer, keeping the taxonomy code
// visible so callers can branch on it.
func toolError(err error) string {
	if me := errors.AsMemoryError(err); me != nil {
		return fmt.Sprintf("%s: %s", me.Code, me.Message)
	}
	return err.Error()
}

func argString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// argID parses a required int64 id argument. JSON numbers arrive as
// float64, which is exact for unix-millisecond ids.
func argID(args map[string]interface{}, key string) (int64, error) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New(errors.CodeInvalidQuery, fmt.Sprintf("%s must be an integer id", key), nil)
}
