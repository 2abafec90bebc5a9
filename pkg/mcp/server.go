// Package mcp exposes document sessions and the analysis engine as MCP tools
// over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/duynguyendang/lexa/pkg/analysis"
	"github.com/duynguyendang/lexa/pkg/extract"
	"github.com/duynguyendang/lexa/pkg/model"
	"github.com/duynguyendang/lexa/pkg/pipeline"
)

// Sessions is the read side of the pipeline.
type Sessions interface {
	GetSessionStatus(ctx context.Context, id string) (model.Session, error)
	GetSessionText(ctx context.Context, id string) (string, model.DocumentMetadata, error)
	GetAnalysisResult(ctx context.Context, id string) (*model.AnalysisResult, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
}

// MCPServer answers tool calls from the session store and the analysis engine.
// Unlike the HTTP surface, calls block until the model has answered.
type MCPServer struct {
	sessions  Sessions
	analyzer  pipeline.Analyzer
	extractor extract.Extractor
	log       *zap.Logger
}

func New(sessions Sessions, analyzer pipeline.Analyzer, extractor extract.Extractor, log *zap.Logger) *MCPServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &MCPServer{sessions: sessions, analyzer: analyzer, extractor: extractor, log: log.Named("mcp")}
}

// Server builds the MCP server with every tool registered.
func (ms *MCPServer) Server(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"lexa",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool(
			"list_sessions",
			mcp.WithDescription("List uploaded document sessions with their status."),
		),
		ms.handleListSessions,
	)

	s.AddTool(
		mcp.NewTool(
			"get_session_status",
			mcp.WithDescription("Get the processing status and document metadata of a session."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("The session ID returned by the upload")),
		),
		ms.handleSessionStatus,
	)

	s.AddTool(
		mcp.NewTool(
			"get_analysis_result",
			mcp.WithDescription("Get the summary, clauses, risk assessment and next steps of an analyzed document."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("The session ID")),
		),
		ms.handleAnalysisResult,
	)

	s.AddTool(
		mcp.NewTool(
			"ask_question",
			mcp.WithDescription("Answer a question using only the text of an uploaded document."),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("The session ID")),
			mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer")),
			mcp.WithString("language", mcp.Description("Answer language (default English)")),
		),
		ms.handleAskQuestion,
	)

	s.AddTool(
		mcp.NewTool(
			"analyze_file",
			mcp.WithDescription("Extract a local PDF, DOCX or TXT file and run the full legal analysis on it."),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the document on this machine")),
		),
		ms.handleAnalyzeFile,
	)

	return s
}

// Run starts the MCP server on Stdio.
func Run(ms *MCPServer, version string) error {
	ms.log.Info("starting MCP server on stdio")
	return server.ServeStdio(ms.Server(version))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

type sessionInfo struct {
	ID               string                  `json:"id"`
	FileName         string                  `json:"fileName"`
	Status           model.Status            `json:"status"`
	Stage            string                  `json:"stage,omitempty"`
	Progress         int                     `json:"progress"`
	LastError        string                  `json:"lastError,omitempty"`
	UploadedAt       string                  `json:"uploadedAt"`
	DocumentMetadata *model.DocumentMetadata `json:"documentMetadata,omitempty"`
}

func toInfo(s model.Session) sessionInfo {
	return sessionInfo{
		ID:               s.ID,
		FileName:         s.FileName,
		Status:           s.Status,
		Stage:            s.Stage,
		Progress:         s.Progress,
		LastError:        s.LastError,
		UploadedAt:       s.UploadedAt.UTC().Format(time.RFC3339),
		DocumentMetadata: s.Metadata,
	}
}

func (ms *MCPServer) handleListSessions(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := ms.sessions.ListSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if len(sessions) == 0 {
		return mcp.NewToolResultText("No sessions found."), nil
	}
	out := make([]sessionInfo, len(sessions))
	for i, s := range sessions {
		out[i] = toInfo(s)
	}
	return jsonResult(out)
}

func (ms *MCPServer) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := ms.sessions.GetSessionStatus(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %v", err)), nil
	}
	return jsonResult(toInfo(sess))
}

func (ms *MCPServer) handleAnalysisResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := ms.sessions.GetAnalysisResult(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no analysis available: %v", err)), nil
	}
	return jsonResult(result)
}

func (ms *MCPServer) handleAskQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("question argument required"), nil
	}
	language := request.GetString("language", analysis.DefaultLanguage)

	text, _, err := ms.sessions.GetSessionText(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("document not available: %v", err)), nil
	}
	answer, err := ms.analyzer.AnswerQuestion(ctx, text, question, language)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("question answering failed: %v", err)), nil
	}
	return mcp.NewToolResultText(answer), nil
}

func (ms *MCPServer) handleAnalyzeFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read file: %v", err)), nil
	}

	res, err := ms.extractor.Extract(ctx, path, "")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("extraction failed: %v", err)), nil
	}

	result, err := pipeline.RunSteps(ctx, ms.analyzer, res.Text, func(stage string, _ int) error {
		ms.log.Debug("analysis step", zap.String("file", path), zap.String("stage", stage))
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(struct {
		File     string                 `json:"file"`
		Metadata model.DocumentMetadata `json:"documentMetadata"`
		*model.AnalysisResult
	}{
		File:           filepath.Base(path),
		Metadata:       model.DocumentMetadata{PageCount: res.PageCount, WordCount: res.WordCount, CharCount: res.CharCount},
		AnalysisResult: result,
	})
}
