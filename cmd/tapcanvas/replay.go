package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tapcanvas/internal/orchestrator"
	"tapcanvas/internal/types"
)

var (
	replayParallel int
	replayOutput   string
)

var replayCmd = &cobra.Command{
	Use:   "replay [requests.jsonl]",
	Short: "Replay a file of turn requests through the orchestrator",
	Long: `Reads one JSON turn request per line and runs each through the full
turn state machine. Requests without a conversation id get a fresh one,
so independent lines never share continuity state.

Useful for regression-checking routing, gating and pipeline behavior
against a captured conversation log. Results are written as JSONL, one
response per input line, in input order.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().IntVar(&replayParallel, "parallel", 4, "max turns in flight")
	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", "", "write responses to this file instead of stdout")
}

// replayResult pairs a response with its input line for ordered output.
type replayResult struct {
	Line     int                 `json:"line"`
	Request  *types.TurnRequest  `json:"-"`
	Response *types.TurnResponse `json:"response,omitempty"`
	Err      string              `json:"error,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open requests: %w", err)
	}
	defer f.Close()

	var requests []*types.TurnRequest
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var req types.TurnRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if req.ConversationID == "" {
			req.ConversationID = uuid.NewString()
		}
		requests = append(requests, &req)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	if len(requests) == 0 {
		return fmt.Errorf("no requests in %s", args[0])
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.New(cfg, logger)
	results := make([]replayResult, len(requests))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(replayParallel)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			resp := orch.Turn(gctx, req)
			mu.Lock()
			results[i] = replayResult{Line: i + 1, Request: req, Response: resp}
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("replay interrupted: %w", err)
	}

	out := cmd.OutOrStdout()
	if replayOutput != "" {
		of, err := os.Create(replayOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer of.Close()
		out = of
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	var withCalls int
	for _, r := range results {
		if r.Response != nil && len(r.Response.ToolCalls) > 0 {
			withCalls++
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	logger.Info("replay complete",
		zap.Int("requests", len(requests)),
		zap.Int("withToolCalls", withCalls))
	return nil
}
