// Package domain holds the core entities and repository/service contracts of the
// gateway. It has no dependency on any adapter package; adapters depend on it.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Context is a local alias kept for parity with the rest of the codebase's signatures.
type Context = context.Context

// Sentinel errors. HTTP status mapping lives in the httpserver adapter; these are
// matched with errors.Is, never type-asserted.
var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrBadRequest           = errors.New("bad request")
	ErrAuthFailure          = errors.New("authentication failed")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrModelNotFound        = errors.New("model not found")
	ErrJobNotFound          = errors.New("job not found")
	ErrSessionMissing       = errors.New("confirm session not found")
	ErrSessionExpired       = errors.New("confirm session expired")
	ErrTransformFailed      = errors.New("script transform failed")
	ErrUpstreamRetryable    = errors.New("upstream error (retryable)")
	ErrUpstreamNonRetryable = errors.New("upstream error (non-retryable)")
	ErrAllBackendsExhausted = errors.New("all backends exhausted")
	ErrMaxIterations        = errors.New("tool-call loop exceeded max iterations")
	ErrNotSupported         = errors.New("operation not supported by this adapter")
	ErrInternal             = errors.New("internal error")
)

// QuotaKind distinguishes the two independent checks the Quota Gate performs, since
// they map to different HTTP status codes (429 vs 402) despite sharing one sentinel.
type QuotaKind string

const (
	QuotaKindRPM   QuotaKind = "rpm"
	QuotaKindToken QuotaKind = "token"
)

// QuotaError wraps ErrQuotaExceeded with the dimension that was exceeded.
type QuotaError struct {
	Kind QuotaKind
}

func (e *QuotaError) Error() string { return "quota exceeded: " + string(e.Kind) }
func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// PrincipalStatus enumerates a principal's admission state.
type PrincipalStatus string

const (
	PrincipalActive   PrincipalStatus = "active"
	PrincipalInactive PrincipalStatus = "inactive"
	PrincipalBlocked  PrincipalStatus = "blocked"
)

// Principal is an authenticated tenant of the gateway.
type Principal struct {
	ID          string
	DisplayName string
	Status      PrincipalStatus
	RPMLimit    int
	TokenQuota  int64
	TokenUsed   int64
	IsAdmin     bool
	CreatedAt   time.Time
}

// CredentialStatus enumerates a credential's lifecycle state.
type CredentialStatus string

const (
	CredentialActive  CredentialStatus = "active"
	CredentialRevoked CredentialStatus = "revoked"
)

// Credential is an opaque bearer token bound to a Principal.
type Credential struct {
	ID          string
	PrincipalID string
	OpaqueKey   string
	Label       string
	Status      CredentialStatus
	LastUsed    *time.Time
	CreatedAt   time.Time
}

// Vendor enumerates the supported backend families a ModelConfig can target.
type Vendor string

const (
	VendorOpenAI        Vendor = "openai"
	VendorAnthropic     Vendor = "anthropic"
	VendorImageWorkflow Vendor = "image_workflow"
	VendorMock          Vendor = "mock"
	VendorMockFail      Vendor = "mock_fail"
)

// ModelConfig is an admin-managed binding from a logical model id to a vendor backend.
type ModelConfig struct {
	ID              string
	Title           string
	LogicalModelID  string
	OpaqueAPIKey    string
	BaseURL         string
	Vendor          Vendor
	CostPer1kTokens float64
	RequestScript   *string
	ResponseScript  *string
	IsActive        bool
	CreatedAt       time.Time
}

// FallbackRule orders an alternative model to try when primary fails or is gated.
type FallbackRule struct {
	PrimaryModel  string
	FallbackModel string
	Priority      int
}

// ToolGovernance enumerates how a tool call is handled by the chat state machine.
type ToolGovernance string

const (
	ToolPolicyAuto    ToolGovernance = "auto"
	ToolPolicyConfirm ToolGovernance = "confirm"
	ToolPolicyBlock   ToolGovernance = "block"
)

// ToolPolicy is an admin decision over how a named tool is allowed to execute, optionally
// scoped to a single principal.
type ToolPolicy struct {
	ToolName    string
	PrincipalID *string
	Policy      ToolGovernance
}

// JobStatus enumerates an AsyncJob's lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// AsyncJob is a deferred chat-completion request submitted with async=true.
type AsyncJob struct {
	JobID       string
	PrincipalID string
	Status      JobStatus
	Payload     json.RawMessage
	Result      json.RawMessage
	Error       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ConfirmSession captures a chat loop paused awaiting user approval of pending tool calls.
type ConfirmSession struct {
	SessionID              string
	PrincipalID            string
	ModelID                string
	SerializedPayload      json.RawMessage
	SerializedPendingCalls json.RawMessage
	CreatedAt              time.Time
	ExpiresAt              time.Time
}

// UsageKind distinguishes streamed from non-streamed accounting entries.
type UsageKind string

const (
	UsageKindChat   UsageKind = "chat"
	UsageKindStream UsageKind = "stream"
	UsageKindAsync  UsageKind = "async"
)

// UsageRecord is an append-only token-accounting entry.
type UsageRecord struct {
	ID          string
	PrincipalID string
	ModelID     string
	ReqTokens   int
	ResTokens   int
	DurationMS  int64
	Kind        UsageKind
	Timestamp   time.Time
}

// CircuitBreakerState enumerates a model's availability gate state.
type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

// McpTool is the federated view of a tool exposed by an MCP backend (or a virtual tool
// synthesised in-process, e.g. route_to_agent).
type McpTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// AgentMessageType enumerates the kinds of message the Agent Orchestrator routes.
type AgentMessageType string

const (
	AgentMsgTaskAssign AgentMessageType = "task_assign"
	AgentMsgTaskStatus AgentMessageType = "task_status"
	AgentMsgTaskResult AgentMessageType = "task_result"
	AgentMsgQuery      AgentMessageType = "query"
	AgentMsgResponse   AgentMessageType = "response"
)

// AgentMessage is the A2A envelope route_to_agent synthesises and the Agent Orchestrator
// dispatches, fire-and-forget, to a registered Agent.
type AgentMessage struct {
	ID       string
	Sender   string
	Receiver string
	Type     AgentMessageType
	Content  json.RawMessage
	Ts       int64
}

// ToolCall mirrors the OpenAI tool-calling schema for one assistant-requested invocation.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction is the named-function body of a ToolCall.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// --- Repository ports -------------------------------------------------------

// PrincipalRepository persists Principal rows.
type PrincipalRepository interface {
	Get(ctx Context, id string) (Principal, error)
	GetByDisplayName(ctx Context, name string) (Principal, error)
	List(ctx Context) ([]Principal, error)
	Create(ctx Context, p Principal) (Principal, error)
	Update(ctx Context, p Principal) error
	IncrementTokenUsed(ctx Context, id string, delta int64) error
	Count(ctx Context) (int, error)
}

// CredentialRepository persists Credential rows and resolves opaque keys to principals.
type CredentialRepository interface {
	Get(ctx Context, id string) (Credential, error)
	ResolveByOpaqueKey(ctx Context, key string) (Credential, Principal, error)
	ListByPrincipal(ctx Context, principalID string) ([]Credential, error)
	Create(ctx Context, c Credential) (Credential, error)
	Revoke(ctx Context, id string) error
}

// ModelConfigRepository persists ModelConfig rows.
type ModelConfigRepository interface {
	GetActiveByLogicalID(ctx Context, logicalModelID string) (ModelConfig, error)
	List(ctx Context) ([]ModelConfig, error)
	Create(ctx Context, m ModelConfig) (ModelConfig, error)
	Update(ctx Context, m ModelConfig) error
	Delete(ctx Context, id string) error
}

// FallbackRuleRepository persists FallbackRule rows.
type FallbackRuleRepository interface {
	ListByPrimary(ctx Context, primaryModel string) ([]FallbackRule, error)
	Upsert(ctx Context, r FallbackRule) error
}

// ToolPolicyRepository persists ToolPolicy rows.
type ToolPolicyRepository interface {
	Effective(ctx Context, toolName, principalID string) (ToolGovernance, error)
	Upsert(ctx Context, p ToolPolicy) error
}

// AsyncJobRepository persists AsyncJob rows.
type AsyncJobRepository interface {
	Get(ctx Context, jobID string) (AsyncJob, error)
	ListByPrincipal(ctx Context, principalID string) ([]AsyncJob, error)
	Create(ctx Context, j AsyncJob) (AsyncJob, error)
	UpdateStatus(ctx Context, jobID string, status JobStatus, result json.RawMessage, errMsg *string) error
	// ListStuck returns jobs in status that haven't been updated since before,
	// paginated by offset/limit, for a sweeper to reclaim.
	ListStuck(ctx Context, status JobStatus, before time.Time, offset, limit int) ([]AsyncJob, error)
}

// ConfirmSessionRepository persists ConfirmSession rows.
type ConfirmSessionRepository interface {
	Save(ctx Context, s ConfirmSession) error
	Load(ctx Context, sessionID string) (ConfirmSession, error)
	Delete(ctx Context, sessionID string) error
}

// UsageRepository appends UsageRecord rows and serves admin aggregate stats.
type UsageRepository interface {
	Append(ctx Context, r UsageRecord) error
	SumByPrincipal(ctx Context, principalID string) (reqTokens, resTokens int64, err error)
}

// --- Service ports -----------------------------------------------------------

// StreamItem is one raw chunk emitted by an adapter's Stream call.
type StreamItem struct {
	Data json.RawMessage
	Err  error
}

// Adapter is the capability set every vendor backend implements.
type Adapter interface {
	ID() string
	Complete(ctx Context, payload json.RawMessage) (json.RawMessage, error)
	Stream(ctx Context, payload json.RawMessage) (<-chan StreamItem, error)
}

// ModelRegistry resolves a logical model id to an Adapter plus its optional scripts.
type ModelRegistry interface {
	Resolve(ctx Context, logicalModelID string) (Adapter, *string, *string, error)
	Clear()
}

// CircuitBreaker gates per-model traffic admission.
type CircuitBreaker interface {
	ShouldAttempt(modelID string) bool
	RecordSuccess(modelID string)
	RecordFailure(modelID string)
	State(modelID string) CircuitBreakerState
}

// McpClientHandle is one connected MCP backend transport.
type McpClientHandle interface {
	ListTools(ctx Context) ([]McpTool, error)
	CallTool(ctx Context, name string, args json.RawMessage) (json.RawMessage, error)
	Close() error
}

// McpFederation aggregates tool descriptors across registered McpClientHandles.
type McpFederation interface {
	Register(name string, handle McpClientHandle)
	Unregister(name string)
	ListAllTools(ctx Context) ([]McpTool, error)
	Call(ctx Context, toolName string, args json.RawMessage) (json.RawMessage, error)
}

// Agent is one participant the Agent Orchestrator can dispatch an AgentMessage to.
type Agent interface {
	ID() string
	HandleMessage(ctx Context, msg AgentMessage) (*AgentMessage, error)
}

// AgentOrchestrator routes AgentMessages between registered Agents.
type AgentOrchestrator interface {
	Register(a Agent)
	Dispatch(ctx Context, msg AgentMessage) error
}

// TokenMeter counts BPE tokens for accounting.
type TokenMeter interface {
	Count(text string) int
	CountMessages(messages json.RawMessage) int
}

// ScriptTransform runs a sandboxed pre/post transform over a JSON payload.
type ScriptTransform interface {
	Run(ctx Context, script string, input json.RawMessage) (json.RawMessage, error)
}

// QuotaGate performs the RPM-window and token-quota admission checks.
type QuotaGate interface {
	CheckRPM(principalID string, limit int) error
	CheckTokenQuota(used, quota int64) error
}

// CredentialCache resolves an opaque bearer token to (Credential, Principal) with TTL
// caching in front of CredentialRepository.
type CredentialCache interface {
	Resolve(ctx Context, opaqueKey string) (Credential, Principal, error)
	Invalidate(opaqueKey string)
}

// JobQueue enqueues an already-persisted AsyncJob's id for background processing.
type JobQueue interface {
	Enqueue(ctx Context, jobID string) error
}

// AsyncJobPayload is the JSON stored in AsyncJob.Payload: the original chat
// request alongside the principal that submitted it, so the background runner
// can resolve quota and usage accounting without a second lookup.
type AsyncJobPayload struct {
	PrincipalID string      `json:"principal_id"`
	Request     ChatRequest `json:"request"`
}

// ChatRequest is the OpenAI-compatible inbound payload to /v1/chat/completions.
type ChatRequest struct {
	Model    string          `json:"model"`
	Messages json.RawMessage `json:"messages"`
	Tools    json.RawMessage `json:"tools,omitempty"`
	Stream   bool            `json:"stream,omitempty"`
	Async    bool            `json:"async,omitempty"`
}
