package acp

// modelEnvVarByAgent maps a known agent command name to the environment
// variable its child reads for model selection, so `model.select` can
// inject a choice before the next prompt for adapters that have no
// `session/select_model` RPC of their own. Grounded on
// original_source/'s per-agent-type settings injection.
var modelEnvVarByAgent = map[string]string{
	"claude-code":     "ANTHROPIC_MODEL",
	"claude-code-acp": "ANTHROPIC_MODEL",
	"openai-codex":    "OPENAI_MODEL",
	"google-gemini":   "GEMINI_MODEL",
}

func getModelEnvVar(agentType string) string {
	return modelEnvVarByAgent[agentType]
}
