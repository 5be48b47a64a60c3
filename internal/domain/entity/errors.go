package entity

import "errors"

var (
	// Run errors
	ErrInvalidRunID       = errors.New("invalid run id")
	ErrRunAlreadyExists   = errors.New("run already exists")
	ErrRunNotFound        = errors.New("run not found")
	ErrRunNotResumable    = errors.New("run is not in a resumable state")

	// Agent errors
	ErrInvalidAgentPath = errors.New("agent path does not exist")
	ErrMissingSystemPrompt = errors.New("agent is missing system_prompt.md")

	// Tool errors
	ErrUnknownTool          = errors.New("unknown tool")
	ErrForbiddenShellChars  = errors.New("exec: template contains forbidden shell metacharacters")
	ErrRawInExecMode        = errors.New("the :raw modifier is not permitted in exec: templates")
	ErrMissingParameter     = errors.New("missing required tool parameter")
	ErrMultipleStdinParams  = errors.New("a tool may declare at most one stdin parameter")

	// Workspace errors
	ErrWorkspaceNotFound = errors.New("workspace .delta directory not found")
)
