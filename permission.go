package tether

// AuthorizationAttributes are the caller-attached authorization facts a
// PermissionGate may consult, modeled explicitly instead of being fished off
// the context at runtime. They travel alongside the context, never inside its
// metadata.
type AuthorizationAttributes struct {
	// PlanTier is the user's subscription tier (e.g. "free", "pro").
	PlanTier string

	// Roles are the user's assigned roles.
	Roles []string

	// FeatureFlags are the feature toggles active for this user.
	FeatureFlags map[string]bool

	// IsAdmin marks administrative users.
	IsAdmin bool

	// IsDeveloper marks internal developer accounts.
	IsDeveloper bool
}

// PermissionQuery is what a gate sees for one invocation: the identity of the
// requesting context, the tool being invoked, and a unique invocation id the
// gate can use for concurrency-slot tracking.
type PermissionQuery struct {
	UserID       string
	ThreadID     string
	RunID        string
	RequestID    string
	ToolName     string
	InvocationID string
	Parameters   map[string]any
	Attributes   AuthorizationAttributes
}

// Decision is a gate's answer to a PermissionQuery.
type Decision struct {
	// Allowed grants or denies the invocation.
	Allowed bool

	// Reason explains a denial; surfaced verbatim in the dispatch result.
	Reason string
}

// PermissionGate decides whether a context may invoke a tool. The decision is
// consumed here, not computed: token validation and policy evaluation live
// outside this module.
//
// Gates may issue concurrency-limiting tokens per invocation; EndExecution
// releases them and is called by the dispatcher for every invocation that
// passed Check, regardless of outcome.
type PermissionGate interface {
	// Check evaluates a permission query.
	Check(query PermissionQuery) Decision

	// EndExecution releases any concurrency slot held for the invocation.
	EndExecution(userID, invocationID string)
}

// AllowAllGate is a PermissionGate that permits everything. Useful as a
// default and in tests.
type AllowAllGate struct{}

// Check implements PermissionGate.
func (AllowAllGate) Check(PermissionQuery) Decision {
	return Decision{Allowed: true}
}

// EndExecution implements PermissionGate.
func (AllowAllGate) EndExecution(string, string) {}

// Compile-time check that AllowAllGate implements PermissionGate.
var _ PermissionGate = AllowAllGate{}
