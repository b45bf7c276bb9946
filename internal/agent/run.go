package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valksor/go-taskrunner/internal/log"
)

// RunPrompt executes req with a, keeping an audit trail: the prompt is saved
// to req.InputPath before the run and the reply, or the failure text, to
// req.OutputPath afterwards. With req.JSON the reply must decode to a JSON
// object; otherwise the error matches ErrMalformedReply.
func RunPrompt(ctx context.Context, a Agent, req Request) (*Reply, error) {
	logger := log.With(log.TraceID(req.TraceID), "agent", a.Name())

	if req.InputPath != "" {
		if err := saveFile(req.InputPath, req.Prompt); err != nil {
			return nil, err
		}
		logger.Debug("prompt saved", "path", req.InputPath)
	}

	// Without a request timeout the agent's configured one applies.
	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(WithTimeout(ctx, req.Timeout), req.Timeout)
		defer cancel()
	}

	logger.Info("running agent", "dir", req.Dir, "prompt_bytes", len(req.Prompt))
	start := time.Now()
	text, err := a.Run(runCtx, req.Dir, req.Prompt)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%s after %s: %w", a.Name(), req.Timeout, ErrTimeout)
		}
		logger.Error("agent failed", "duration", elapsed, log.Err(err))
		saveOutput(logger, req.OutputPath, fmt.Sprintf("[%s] %s failed: %v", req.TraceID, a.Name(), err))
		return nil, fmt.Errorf("run %s: %w", a.Name(), err)
	}
	logger.Info("agent finished", "duration", elapsed, "reply_bytes", len(text))

	reply := &Reply{Text: text, Duration: elapsed}
	if req.JSON {
		data, err := decodeObject(text)
		if err != nil {
			msg := fmt.Sprintf("[%s] %s reply is not valid JSON: %v\nraw reply:\n%s", req.TraceID, a.Name(), err, text)
			saveOutput(logger, req.OutputPath, msg)
			return nil, fmt.Errorf("%s: %w: %v", a.Name(), ErrMalformedReply, err)
		}
		reply.Data = data
	}

	saveOutput(logger, req.OutputPath, text)
	return reply, nil
}

// decodeObject decodes a JSON object, also accepting one wrapped in a
// markdown code fence or surrounded by prose.
func decodeObject(text string) (map[string]any, error) {
	var data map[string]any
	err := json.Unmarshal([]byte(strings.TrimSpace(text)), &data)
	if err == nil && data != nil {
		return data, nil
	}

	candidate := text
	if i := strings.Index(candidate, "```"); i >= 0 {
		rest := candidate[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			candidate = rest[:j]
		}
	}
	start, end := strings.IndexByte(candidate, '{'), strings.LastIndexByte(candidate, '}')
	if start < 0 || end <= start {
		if err == nil {
			err = fmt.Errorf("reply is not an object")
		}
		return nil, err
	}
	data = nil
	if err := json.Unmarshal([]byte(candidate[start:end+1]), &data); err != nil {
		return nil, err
	}
	return data, nil
}

func saveFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func saveOutput(logger interface{ Warn(string, ...any) }, path, content string) {
	if path == "" {
		return
	}
	if err := saveFile(path, content); err != nil {
		logger.Warn("cannot save agent output", log.Err(err))
	}
}
