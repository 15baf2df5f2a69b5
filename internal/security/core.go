// Package security implements the session-scoped decision core: it takes a
// SecurityEvent (handshake, tool request, resource request, or passthrough),
// classifies it, dispatches to the policy evaluator, and returns the
// SecurityDecision the transport mediator must enforce.
package security

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sentinel-mediator/sentinel/internal/policy"
	"github.com/sentinel-mediator/sentinel/internal/session"
	"github.com/sentinel-mediator/sentinel/internal/signer"
)

// EventKind discriminates the four events a Core can evaluate.
type EventKind int

const (
	EventHandshake EventKind = iota
	EventToolRequest
	EventResourceRequest
	EventPassthrough
)

// Event is the single input to Core.Evaluate.
type Event struct {
	Kind EventKind

	// Handshake
	AudienceToken string

	// ToolRequest
	SessionToken string
	ToolName     string
	ToolArgs     map[string]any

	// ResourceRequest
	ResourceURI string
}

// DecisionCode classifies a SecurityDecision for audit logging and HTTP
// status mapping.
type DecisionCode string

const (
	CodeAllow         DecisionCode = "ALLOW"
	CodeAuth          DecisionCode = "AUTH"
	CodeSecurityBlock DecisionCode = "SECURITY_BLOCK"
	CodeInternal      DecisionCode = "INTERNAL"
)

// SecurityDecision is the outcome of evaluating one Event.
type SecurityDecision struct {
	Code      DecisionCode
	Reason    string
	Spotlight bool
}

// Config controls session-validation and audience-validation behavior that
// varies by deployment (the audience check runs on a Handshake event only
// when ExpectedAudience is set; with it empty, no audience is checked).
type Config struct {
	ExpectedAudience   string
	RequireSessionAuth bool
	Spotlighting       bool
	// AuditOnly makes a missing policy resolve to Allow instead of Deny for
	// tool and resource requests. Once a policy is loaded it has no effect:
	// that policy's denials are enforced.
	AuditOnly bool
}

// Core is the per-session security decision engine. One Core exists per
// mediated session; it owns that session's State and the Policy currently
// bound to it.
type Core struct {
	cfg       Config
	signer    *signer.Signer
	evaluator *policy.Evaluator
	logger    *zap.Logger

	sessionID string
	state     *session.State
	pol       *policy.Policy
}

// New creates a Core for a freshly minted session id.
func New(cfg Config, sgn *signer.Signer, logger *zap.Logger) *Core {
	id := sgn.NewSessionID()
	return &Core{
		cfg:       cfg,
		signer:    sgn,
		evaluator: policy.NewEvaluator(),
		logger:    logger,
		sessionID: id,
		state:     session.New(id),
	}
}

// SessionID returns the session id this Core minted at construction.
func (c *Core) SessionID() string { return c.sessionID }

// lethalTrifectaErrorMessage is the denial reason for the synthetic rule
// SetPolicy injects when a policy sets ProtectLethalTrifecta.
const lethalTrifectaErrorMessage = "Blocked by lethal trifecta protection"

// SetPolicy binds pol to this session. Callers must validate pol with
// policy.Validator before calling SetPolicy — Core never re-validates.
//
// When pol.ProtectLethalTrifecta is set, SetPolicy auto-injects a synthetic
// CHECK_TAINT rule over a private copy of pol rather than mutating the
// caller's document: any tool classified EXFILTRATION is denied once the
// session carries both ACCESS_PRIVATE and UNTRUSTED_SOURCE taints, breaking
// the lethal trifecta (private-data access + untrusted content +
// exfiltration capability) regardless of what the policy author did or
// didn't write explicitly.
func (c *Core) SetPolicy(pol *policy.Policy) {
	if pol == nil || !pol.ProtectLethalTrifecta {
		c.pol = pol
		return
	}

	bound := *pol
	bound.TaintRules = append(append([]policy.Rule{}, pol.TaintRules...), policy.Rule{
		ToolClass:      "EXFILTRATION",
		Action:         policy.ActionCheckTaint,
		RequiredTaints: []string{"ACCESS_PRIVATE", "UNTRUSTED_SOURCE"},
		Error:          lethalTrifectaErrorMessage,
	})
	c.logger.Info("lethal trifecta protection enabled, auto-injecting EXFILTRATION blocking rule",
		zap.String("session_id", c.sessionID))
	c.pol = &bound
}

// Evaluate dispatches ev by Kind and returns the resulting decision,
// recording an audit entry and, on allow-with-side-effects, mutating session
// taint state before returning.
func (c *Core) Evaluate(ev Event) SecurityDecision {
	var d SecurityDecision
	switch ev.Kind {
	case EventHandshake:
		d = c.evaluateHandshake(ev)
	case EventToolRequest:
		d = c.evaluateToolRequest(ev)
	case EventResourceRequest:
		d = c.evaluateResourceRequest(ev)
	case EventPassthrough:
		d = SecurityDecision{Code: CodeAllow}
	default:
		d = SecurityDecision{Code: CodeInternal, Reason: "unknown event kind"}
	}

	c.audit(ev, d)
	return d
}

func (c *Core) evaluateHandshake(ev Event) SecurityDecision {
	if c.cfg.ExpectedAudience == "" {
		return SecurityDecision{Code: CodeAllow}
	}
	if ev.AudienceToken == "" {
		return SecurityDecision{Code: CodeAuth, Reason: "Missing audience token"}
	}
	if err := c.signer.ValidateAudienceClaim(ev.AudienceToken, c.cfg.ExpectedAudience); err != nil {
		return SecurityDecision{Code: CodeAuth, Reason: "Audience validation failed: " + err.Error()}
	}
	return SecurityDecision{Code: CodeAllow}
}

func (c *Core) evaluateToolRequest(ev Event) SecurityDecision {
	if c.cfg.RequireSessionAuth {
		switch {
		case ev.SessionToken == "":
			return SecurityDecision{Code: CodeAuth, Reason: "Missing Session ID"}
		case ev.SessionToken != c.sessionID:
			return SecurityDecision{Code: CodeAuth, Reason: "Session ID mismatch"}
		case !c.signer.ValidateSessionID(ev.SessionToken):
			return SecurityDecision{Code: CodeAuth, Reason: "Invalid Session ID"}
		}
	}

	classes := ClassifyTool(ev.ToolName)

	if c.pol == nil {
		if c.cfg.AuditOnly {
			c.state.RecordCall(ev.ToolName, classes)
			return SecurityDecision{Code: CodeAllow}
		}
		return SecurityDecision{Code: CodeSecurityBlock, Reason: "No security policy loaded. Sentinel defaults to Deny-All."}
	}

	ctx := policy.CallContext{
		Tool:           ev.ToolName,
		ToolClasses:    classes,
		ToolArgs:       ev.ToolArgs,
		SessionTools:   c.state.Tools(),
		SessionClasses: c.state.Classes(),
		CurrentTaints:  c.state.Taints(),
	}
	decision := c.evaluator.Evaluate(c.pol, ctx)

	if !decision.Allowed {
		return SecurityDecision{Code: CodeSecurityBlock, Reason: decision.DeniedReason}
	}

	c.state.RecordCall(ev.ToolName, classes)
	c.state.ApplySideEffects(decision.TaintsToAdd, decision.TaintsToRemove)

	return SecurityDecision{Code: CodeAllow, Spotlight: c.cfg.Spotlighting}
}

func (c *Core) evaluateResourceRequest(ev Event) SecurityDecision {
	if c.cfg.RequireSessionAuth {
		switch {
		case ev.SessionToken == "":
			return SecurityDecision{Code: CodeAuth, Reason: "Missing Session ID"}
		case ev.SessionToken != c.sessionID:
			return SecurityDecision{Code: CodeAuth, Reason: "Session ID mismatch"}
		case !c.signer.ValidateSessionID(ev.SessionToken):
			return SecurityDecision{Code: CodeAuth, Reason: "Invalid Session ID"}
		}
	}

	if c.pol == nil {
		if c.cfg.AuditOnly {
			return SecurityDecision{Code: CodeAllow}
		}
		return SecurityDecision{Code: CodeSecurityBlock, Reason: "No security policy loaded. Sentinel defaults to Deny-All."}
	}

	decision := c.evaluator.EvaluateResource(c.pol, ev.ResourceURI, c.state.Taints())
	if !decision.Allowed {
		return SecurityDecision{Code: CodeSecurityBlock, Reason: decision.DeniedReason}
	}
	c.state.ApplySideEffects(decision.TaintsToAdd, decision.TaintsToRemove)
	return SecurityDecision{Code: CodeAllow, Spotlight: c.cfg.Spotlighting}
}

// audit emits a structured, single-line audit record. It always runs,
// including on internal errors — an evaluation that cannot reach a verdict
// is itself a security-relevant event and is never silently dropped.
func (c *Core) audit(ev Event, d SecurityDecision) {
	c.logger.Info("audit",
		zap.String("event_type", eventKindName(ev.Kind)),
		zap.String("session_id", c.sessionID),
		zap.Time("timestamp", time.Now()),
		zap.String("tool_name", ev.ToolName),
		zap.String("decision", string(d.Code)),
		zap.String("details", d.Reason),
	)
}

func eventKindName(k EventKind) string {
	switch k {
	case EventHandshake:
		return "Handshake"
	case EventToolRequest:
		return "ToolRequest"
	case EventResourceRequest:
		return "ResourceRequest"
	case EventPassthrough:
		return "Passthrough"
	default:
		return "Unknown"
	}
}

// ClassifyTool derives coarse read/write/exfiltration classes from a tool
// name using the same prefix/keyword heuristic as the original prototypes:
// read_/get_ -> READ, write_/delete_ -> WRITE, and any name containing one
// of the well-known HTTP-client keywords (curl, wget, fetch, requests, http)
// -> EXFILTRATION,NETWORK.
func ClassifyTool(name string) []string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "read_"), strings.HasPrefix(lower, "get_"):
		return []string{"READ"}
	case strings.HasPrefix(lower, "write_"), strings.HasPrefix(lower, "delete_"):
		return []string{"WRITE"}
	}
	for _, net := range []string{"curl", "wget", "fetch", "requests", "http"} {
		if strings.Contains(lower, net) {
			return []string{"EXFILTRATION", "NETWORK"}
		}
	}
	return nil
}
