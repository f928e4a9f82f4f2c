package core

// Execution methods recorded on an ActionResult.
const (
	MethodNone         = "none"
	MethodShadow       = "shadow"
	MethodSendMessage  = "send_message"
	MethodSendReaction = "send_reaction"
)

// ActionResult describes what the act stage did. Executed implies exactly one
// outbound tool call succeeded.
type ActionResult struct {
	Executed   bool   `json:"executed"`
	Method     string `json:"method"`
	ExternalID int64  `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NoOpResult is the terminal result used when a run ends without acting.
func NoOpResult(reason string) ActionResult {
	return ActionResult{Method: MethodNone, Error: reason}
}
