package toolexec

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentmesh/runtime/internal/rterr"
)

// AuxiliaryGroup is registered for any non-root role that declares it
// explicitly (SPEC_FULL §4.6 expansion).
const AuxiliaryGroup = "auxiliary"

// commandDenylist blocks the obviously destructive shell patterns named in
// spec §7; it is a blunt substring filter, not a sandboxer, per the
// expansion's scope for run_shell.
var commandDenylist = []string{
	"rm -rf /", "sudo ", "mkfs", ":(){ :|:& };:", "shutdown", "format c:",
}

// RegisterAuxiliaryTools registers http_fetch, run_shell, read_file, and
// write_file on reg, all in AuxiliaryGroup.
func RegisterAuxiliaryTools(reg *Registry) error {
	tools := []*Tool{
		httpFetchTool(),
		runShellTool(),
		readFileTool(),
		writeFileTool(),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func httpFetchTool() *Tool {
	return &Tool{
		Name:  "http_fetch",
		Group: AuxiliaryGroup,
		ParamsSchema: `{
			"type": "object",
			"required": ["url"],
			"properties": {
				"url": {"type": "string", "minLength": 1},
				"method": {"type": "string"}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				URL    string `json:"url"`
				Method string `json:"method"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			method := in.Method
			if method == "" {
				method = http.MethodGet
			}
			if method != http.MethodGet {
				return nil, rterr.New(rterr.CodeInvalidMethod, "http_fetch only supports GET, got %s", method)
			}

			parsed, err := url.Parse(in.URL)
			if err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidURL, err)
			}
			if parsed.Scheme != "https" {
				return nil, rterr.New(rterr.CodeOnlyHTTPSAllowed, "http_fetch requires an https:// url, got %q", in.URL)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
			if err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidURL, err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return nil, rterr.Wrap(rterr.CodeCommandFailed, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return nil, rterr.Wrap(rterr.CodeCommandFailed, err)
			}
			return map[string]any{
				"status": resp.StatusCode,
				"body":   string(body),
			}, nil
		},
	}
}

func runShellTool() *Tool {
	return &Tool{
		Name:  "run_shell",
		Group: AuxiliaryGroup,
		ParamsSchema: `{
			"type": "object",
			"required": ["command"],
			"properties": {
				"command": {"type": "string", "minLength": 1},
				"timeoutSeconds": {"type": "integer", "minimum": 1, "maximum": 300}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				Command        string `json:"command"`
				TimeoutSeconds int    `json:"timeoutSeconds"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}

			lower := strings.ToLower(in.Command)
			for _, blocked := range commandDenylist {
				if strings.Contains(lower, blocked) {
					return nil, rterr.New(rterr.CodeCommandBlocked, "command matches a denylisted pattern")
				}
			}

			timeout := 30 * time.Second
			if in.TimeoutSeconds > 0 {
				timeout = time.Duration(in.TimeoutSeconds) * time.Second
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "sh", "-c", in.Command)
			output, err := cmd.CombinedOutput()
			if runCtx.Err() == context.DeadlineExceeded {
				return nil, rterr.New(rterr.CodeCommandTimeout, "command exceeded %s", timeout)
			}
			if err != nil {
				return nil, rterr.New(rterr.CodeCommandFailed, "%s: %s", err, string(output))
			}
			return map[string]any{"output": string(output)}, nil
		},
	}
}

func workspacePath(tc ToolContext, name string) (string, error) {
	root, ok := tc.Runtime.Workspace(tc.Agent.TaskID)
	if !ok {
		return "", rterr.New(rterr.CodeNotFound, "no workspace registered for task %q", tc.Agent.TaskID)
	}
	clean := filepath.Clean(filepath.Join(root, name))
	if !strings.HasPrefix(clean, filepath.Clean(root)+string(os.PathSeparator)) && clean != filepath.Clean(root) {
		return "", rterr.New(rterr.CodeInvalidArgs, "path %q escapes the task workspace", name)
	}
	return clean, nil
}

func readFileTool() *Tool {
	return &Tool{
		Name:  "read_file",
		Group: AuxiliaryGroup,
		ParamsSchema: `{
			"type": "object",
			"required": ["path"],
			"properties": {"path": {"type": "string", "minLength": 1}},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			path, err := workspacePath(tc, in.Path)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, rterr.Wrap(rterr.CodeNotFound, err)
			}
			return map[string]any{"content": string(data)}, nil
		},
	}
}

func writeFileTool() *Tool {
	return &Tool{
		Name:  "write_file",
		Group: AuxiliaryGroup,
		ParamsSchema: `{
			"type": "object",
			"required": ["path", "content"],
			"properties": {
				"path": {"type": "string", "minLength": 1},
				"content": {"type": "string"}
			},
			"additionalProperties": false
		}`,
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error) {
			var in struct {
				Path    string `json:"path"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, rterr.Wrap(rterr.CodeInvalidArgs, err)
			}
			path, err := workspacePath(tc, in.Path)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, rterr.Wrap(rterr.CodeArtifactWriteFail, err)
			}
			if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
				return nil, rterr.Wrap(rterr.CodeArtifactWriteFail, err)
			}
			return map[string]any{"written": path}, nil
		},
	}
}
