package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/safeshell-dev/safeshell"
)

// --- Input/Output types ---

// BashInput defines parameters for the safeshell_bash tool.
type BashInput struct {
	Command string `json:"command" jsonschema:"shell command to execute"`
}

// BashOutput contains the execution result or block details.
type BashOutput struct {
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	ExitCode  int    `json:"exit_code"`
	Truncated bool   `json:"truncated,omitempty"`
	Blocked   bool   `json:"blocked,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// CheckInput defines parameters for the safeshell_check tool.
type CheckInput struct {
	Command string `json:"command" jsonschema:"shell command to evaluate"`
}

// CheckOutput contains the policy decision for a dry-run.
type CheckOutput struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
	RuleID   string `json:"rule_id,omitempty"`
	Category string `json:"category,omitempty"`
}

// ReadFileInput defines parameters for the safeshell_read_file tool.
type ReadFileInput struct {
	Path string `json:"path" jsonschema:"file path relative to the sandbox root"`
}

// ReadFileOutput carries the file content.
type ReadFileOutput struct {
	Content string `json:"content"`
}

// WriteFileInput defines parameters for the safeshell_write_file tool.
type WriteFileInput struct {
	Path    string `json:"path" jsonschema:"file path relative to the sandbox root"`
	Content string `json:"content" jsonschema:"full file content to write"`
}

// WriteFileOutput confirms the write.
type WriteFileOutput struct {
	Path    string `json:"path"`
	Written int    `json:"written"`
}

// ListDirInput defines parameters for the safeshell_list_dir tool.
type ListDirInput struct {
	Path string `json:"path,omitempty" jsonschema:"directory path, defaults to the sandbox root"`
}

// ListDirOutput lists the merged directory entries.
type ListDirOutput struct {
	Entries []string `json:"entries"`
}

// DiffInput is empty, no parameters needed.
type DiffInput struct{}

// DiffOutput lists all session changes.
type DiffOutput struct {
	Changes []DiffItem `json:"changes"`
}

// DiffItem describes one changed path.
type DiffItem struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

// --- Handlers ---

func (s *Server) handleBash(ctx context.Context, req *mcpsdk.CallToolRequest, input BashInput) (*mcpsdk.CallToolResult, BashOutput, error) {
	result, err := s.toolkit.Bash(ctx, input.Command)
	if err != nil {
		var secErr *safeshell.SecurityError
		if errors.As(err, &secErr) {
			out := BashOutput{
				Blocked:  true,
				Decision: string(secErr.Decision.Outcome),
				Reason:   secErr.Decision.Reason,
			}
			return &mcpsdk.CallToolResult{IsError: true}, out, nil
		}
		var execErr *safeshell.ExecutionError
		if errors.As(err, &execErr) && execErr.Timeout {
			out := BashOutput{Reason: execErr.Error()}
			return &mcpsdk.CallToolResult{IsError: true}, out, nil
		}
		return nil, BashOutput{}, err
	}

	return nil, BashOutput{
		Stdout:    result.Stdout,
		Stderr:    result.Stderr,
		ExitCode:  result.ExitCode,
		Truncated: result.Truncated,
		Decision:  string(result.Decision.Outcome),
	}, nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	d := s.check(input.Command)

	out := CheckOutput{
		Decision: string(d.Outcome),
		Reason:   d.Reason,
	}
	if d.Rule != nil {
		out.RuleID = d.Rule.ID
		out.Category = string(d.Rule.Category)
	}
	return nil, out, nil
}

func (s *Server) handleReadFile(ctx context.Context, req *mcpsdk.CallToolRequest, input ReadFileInput) (*mcpsdk.CallToolResult, ReadFileOutput, error) {
	content, err := s.toolkit.ReadFile(input.Path)
	if err != nil {
		return nil, ReadFileOutput{}, err
	}
	return nil, ReadFileOutput{Content: content}, nil
}

func (s *Server) handleWriteFile(ctx context.Context, req *mcpsdk.CallToolRequest, input WriteFileInput) (*mcpsdk.CallToolResult, WriteFileOutput, error) {
	if err := s.toolkit.WriteFile(input.Path, []byte(input.Content)); err != nil {
		return nil, WriteFileOutput{}, err
	}
	return nil, WriteFileOutput{Path: input.Path, Written: len(input.Content)}, nil
}

func (s *Server) handleListDir(ctx context.Context, req *mcpsdk.CallToolRequest, input ListDirInput) (*mcpsdk.CallToolResult, ListDirOutput, error) {
	dir := input.Path
	if dir == "" {
		dir = "."
	}
	entries, err := s.toolkit.ListDir(dir)
	if err != nil {
		return nil, ListDirOutput{}, err
	}
	return nil, ListDirOutput{Entries: entries}, nil
}

func (s *Server) handleDiff(ctx context.Context, req *mcpsdk.CallToolRequest, input DiffInput) (*mcpsdk.CallToolResult, DiffOutput, error) {
	changes, err := s.toolkit.Diff()
	if err != nil {
		return nil, DiffOutput{}, err
	}
	items := make([]DiffItem, len(changes))
	for i, c := range changes {
		items[i] = DiffItem{Path: c.Path, Kind: string(c.Kind)}
	}
	return nil, DiffOutput{Changes: items}, nil
}
