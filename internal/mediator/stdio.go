package mediator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/sentinel-mediator/sentinel/internal/config"
	"github.com/sentinel-mediator/sentinel/internal/security"
	"github.com/sentinel-mediator/sentinel/internal/supervisor"
	"github.com/sentinel-mediator/sentinel/internal/transport"
)

// StdioMediator sits between an agent speaking line-delimited JSON-RPC 2.0
// on its stdin/stdout and a single upstream process it owns and supervises.
// One StdioMediator serves exactly one session; its event loop runs serially
// on a single goroutine, matching the "single owner per session" concurrency
// model — request n+1 is not read until request n's decision and (if
// allowed) its forwarded response have both completed.
type StdioMediator struct {
	cfg    config.UpstreamConfig
	core   *security.Core
	logger *zap.Logger

	mu   sync.Mutex
	up   *supervisor.Supervisor
	upW  *bufio.Writer
	upR  *bufio.Reader
}

// NewStdioMediator constructs a mediator bound to a freshly minted Core; the
// upstream process is spawned lazily, on the first request forwarded to it
// (normally the client's initialize message, which is passed through).
func NewStdioMediator(cfg config.UpstreamConfig, core *security.Core, logger *zap.Logger) *StdioMediator {
	return &StdioMediator{cfg: cfg, core: core, logger: logger}
}

// Run drives the event loop: read one JSON-RPC message from in, evaluate it,
// forward or deny, write the response to out. Returns when in reaches EOF or
// ctx is canceled.
func (m *StdioMediator) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			m.logger.Warn("dropping unparseable stdio frame", zap.Error(err))
			continue
		}

		resp := m.handle(ctx, &req)
		if resp != nil {
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("mediator: writing response: %w", err)
			}
		}
	}
	return scanner.Err()
}

func (m *StdioMediator) handle(ctx context.Context, req *Request) *Response {
	deny := func(d security.SecurityDecision) *Response {
		code := transport.CodeSecurityBlock
		switch d.Code {
		case security.CodeAuth:
			code = transport.CodeAuthFailure
		case security.CodeInternal:
			code = transport.CodeInternalError
		}
		return errorResponse(req, code, d.Reason)
	}

	if name, args, ok := readToolCall(req); ok {
		decision := m.core.Evaluate(security.Event{
			Kind:     security.EventToolRequest,
			ToolName: name,
			ToolArgs: args,
		})
		if decision.Code != security.CodeAllow {
			return deny(decision)
		}
		return m.forward(ctx, req, decision.Spotlight)
	}

	if uri, ok := readResourceRequest(req); ok {
		decision := m.core.Evaluate(security.Event{Kind: security.EventResourceRequest, ResourceURI: uri})
		if decision.Code != security.CodeAllow {
			return deny(decision)
		}
		return m.forward(ctx, req, decision.Spotlight)
	}

	// Everything else (initialize, notifications, tools/list, ping, ...) is
	// Passthrough: always allowed, still audited.
	m.core.Evaluate(security.Event{Kind: security.EventPassthrough})
	return m.forward(ctx, req, false)
}

// forward ensures the upstream process is running, writes req to it, and
// reads back exactly one response line, spotlighting it first if requested.
func (m *StdioMediator) forward(ctx context.Context, req *Request, spotlight bool) *Response {
	if err := m.ensureUpstream(ctx); err != nil {
		m.logger.Error("upstream unavailable", zap.Error(err))
		return errorResponse(req, transport.CodeInternalError, "upstream process unavailable")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return errorResponse(req, transport.CodeInternalError, "failed to encode request")
	}
	if _, err := m.upW.Write(append(payload, '\n')); err != nil {
		return errorResponse(req, transport.CodeInternalError, "failed to write to upstream")
	}
	if err := m.upW.Flush(); err != nil {
		return errorResponse(req, transport.CodeInternalError, "failed to flush to upstream")
	}

	line, err := m.upR.ReadBytes('\n')
	if err != nil {
		return errorResponse(req, transport.CodeInternalError, "failed to read upstream response")
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return errorResponse(req, transport.CodeInternalError, "upstream returned malformed response")
	}

	if spotlight && resp.Result != nil {
		var decoded any
		if err := json.Unmarshal(resp.Result, &decoded); err == nil {
			marked := transport.Spotlight(decoded)
			if b, err := json.Marshal(marked); err == nil {
				resp.Result = b
			}
		}
	}

	return &resp
}

func (m *StdioMediator) ensureUpstream(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.up != nil {
		return nil
	}

	shellCmd, shellArgs := transport.WrapCommandInShell(m.cfg.Command, m.cfg.Args)
	env := transport.BuildEnvironment(m.cfg.Env)

	sup, events, err := supervisor.Spawn(ctx, shellCmd, shellArgs, env, m.cfg.WorkingDir, m.logger)
	if err != nil {
		return fmt.Errorf("mediator: spawning upstream: %w", err)
	}
	m.up = sup
	m.upW = bufio.NewWriter(sup.Stdin)
	m.upR = bufio.NewReader(sup.Stdout)

	go func() {
		ev := <-events
		if ev.Err != nil {
			m.logger.Error("upstream process error", zap.Error(ev.Err))
			return
		}
		m.logger.Info("upstream process exited", zap.Intp("exit_code", ev.Terminated))
	}()

	return nil
}

// Close shuts down the supervised upstream process, if one was spawned.
func (m *StdioMediator) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.up != nil {
		m.up.Kill()
	}
}
