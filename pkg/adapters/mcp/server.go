package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/latch"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// AttemptResult is the structured output of every attempt tool.
type AttemptResult struct {
	ID    string           `json:"id" jsonschema_description:"The login attempt ID"`
	State domain.StateView `json:"state" jsonschema_description:"The challenge state the attempt is in"`
	Error string           `json:"error,omitempty" jsonschema_description:"Classified failure, if the last step failed"`
	Kind  string           `json:"kind,omitempty" jsonschema_description:"Error kind of the failure"`
}

// BeginLoginArgs are the arguments of begin_login.
type BeginLoginArgs struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TwoFactorArgs are the arguments of submit_two_factor.
type TwoFactorArgs struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Method string `json:"method,omitempty"`
}

// CheckpointArgs are the arguments of submit_checkpoint.
type CheckpointArgs struct {
	ID      string            `json:"id"`
	Step    string            `json:"step"`
	Payload map[string]string `json:"payload,omitempty"`
}

// AttemptArgs identify an attempt.
type AttemptArgs struct {
	ID string `json:"id"`
}

// Server exposes a session Manager as an MCP Server.
type Server struct {
	manager   *session.Manager
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(manager *session.Manager) *Server {
	s := &Server{
		manager:   manager,
		mcpServer: server.NewMCPServer("latch-mcp", strings.TrimSpace(latch.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("Shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("begin_login",
		mcp.WithDescription("Start a login attempt with a username and password."),
		mcp.WithString("username", mcp.Required(), mcp.Description("Account username")),
		mcp.WithString("password", mcp.Required(), mcp.Description("Account password")),
		mcp.WithOutputSchema[AttemptResult](),
	), mcp.NewStructuredToolHandler(s.handleBeginLogin))

	s.mcpServer.AddTool(mcp.NewTool("submit_two_factor",
		mcp.WithDescription("Submit a verification code for a pending two-factor challenge."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Attempt ID")),
		mcp.WithString("code", mcp.Required(), mcp.Description("Verification code")),
		mcp.WithString("method", mcp.Description("Verification method (defaults to the one the server chose)")),
		mcp.WithOutputSchema[AttemptResult](),
	), mcp.NewStructuredToolHandler(s.handleTwoFactor))

	s.mcpServer.AddTool(mcp.NewTool("submit_checkpoint",
		mcp.WithDescription("Satisfy the pending checkpoint step."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Attempt ID")),
		mcp.WithString("step", mcp.Required(), mcp.Description("Step kind shown in the attempt state")),
		mcp.WithObject("payload", mcp.Description("Step fields such as choice or security_code")),
		mcp.WithOutputSchema[AttemptResult](),
	), mcp.NewStructuredToolHandler(s.handleCheckpoint))

	s.mcpServer.AddTool(mcp.NewTool("poll_approval",
		mcp.WithDescription("Poll whether a trusted device approved the login."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Attempt ID")),
		mcp.WithOutputSchema[AttemptResult](),
	), mcp.NewStructuredToolHandler(s.handlePoll))

	s.mcpServer.AddTool(mcp.NewTool("get_attempt",
		mcp.WithDescription("Get the current state of a login attempt."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Attempt ID")),
		mcp.WithOutputSchema[AttemptResult](),
	), mcp.NewStructuredToolHandler(s.handleGetAttempt))
}

func (s *Server) handleBeginLogin(ctx context.Context, request mcp.CallToolRequest, args BeginLoginArgs) (AttemptResult, error) {
	id, state, err := s.manager.Start(ctx, args.Username, args.Password)
	return result(id, state, err)
}

func (s *Server) handleTwoFactor(ctx context.Context, request mcp.CallToolRequest, args TwoFactorArgs) (AttemptResult, error) {
	var method domain.TwoFactorMethod
	if args.Method != "" {
		m, ok := domain.ParseTwoFactorMethod(strings.ToLower(args.Method))
		if !ok {
			return AttemptResult{}, fmt.Errorf("unknown two-factor method %q", args.Method)
		}
		method = m
	}
	state, err := s.manager.SubmitTwoFactor(ctx, args.ID, method, args.Code)
	return result(args.ID, state, err)
}

func (s *Server) handleCheckpoint(ctx context.Context, request mcp.CallToolRequest, args CheckpointArgs) (AttemptResult, error) {
	state, err := s.manager.SubmitCheckpoint(ctx, args.ID, domain.StepKind(args.Step), args.Payload)
	return result(args.ID, state, err)
}

func (s *Server) handlePoll(ctx context.Context, request mcp.CallToolRequest, args AttemptArgs) (AttemptResult, error) {
	state, err := s.manager.Poll(ctx, args.ID)
	return result(args.ID, state, err)
}

func (s *Server) handleGetAttempt(ctx context.Context, request mcp.CallToolRequest, args AttemptArgs) (AttemptResult, error) {
	a, err := s.manager.Get(args.ID)
	if err != nil {
		return AttemptResult{}, err
	}
	return AttemptResult{ID: args.ID, State: a.State().Describe()}, nil
}

// result folds a classified protocol failure into the output. Anything else
// (unknown attempt, wrong step, network) is a tool error.
func result(id string, state domain.ChallengeState, err error) (AttemptResult, error) {
	var pe *domain.ProtocolError
	if err != nil && (state == nil || !errors.As(err, &pe)) {
		return AttemptResult{}, err
	}
	res := AttemptResult{ID: id, State: state.Describe()}
	if err != nil {
		res.Error = pe.Message
		res.Kind = string(pe.Kind)
	}
	return res, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("latch://attempts", "Active login attempts",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		views := make(map[string]domain.StateView)
		for _, id := range s.manager.List() {
			a, err := s.manager.Get(id)
			if err != nil {
				continue
			}
			views[id] = a.State().Describe()
		}
		jsonBytes, _ := json.Marshal(views)

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "latch://attempts",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
