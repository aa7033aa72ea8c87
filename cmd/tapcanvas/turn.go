package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tapcanvas/internal/orchestrator"
	"tapcanvas/internal/session"
	"tapcanvas/internal/types"
)

var (
	turnConversation string
	turnMode         string
	turnNoPersist    bool
)

var turnCmd = &cobra.Command{
	Use:   "turn",
	Short: "Run one conversation turn from a JSON request on stdin",
	Long: `Reads a turn request as JSON from stdin, runs the full turn state
machine and writes the turn response as JSON to stdout.

The request carries the messages for this turn. Summary and loop count
are backfilled from the conversation database when the request omits
them, and the outcome is persisted back unless --no-persist is set.

Example:
  echo '{"interactionMode":"agent","messages":[{"role":"user","content":"续写一段 15 秒的小故事"}]}' | tapcanvas turn --conversation demo`,
	RunE: runTurn,
}

func init() {
	turnCmd.Flags().StringVar(&turnConversation, "conversation", "", "conversation id (overrides the request field)")
	turnCmd.Flags().StringVar(&turnMode, "mode", "", "interaction mode override: plan, agent or agent_max")
	turnCmd.Flags().BoolVar(&turnNoPersist, "no-persist", false, "do not write the turn outcome to the database")
}

func runTurn(cmd *cobra.Command, args []string) error {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	var req types.TurnRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}
	if turnConversation != "" {
		req.ConversationID = turnConversation
	}
	if turnMode != "" {
		req.Mode = types.InteractionMode(turnMode)
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		return fmt.Errorf("conversation id required (set --conversation or the conversationId field)")
	}

	store, err := session.OpenStore(dbPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	snap, err := store.Load(req.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if len(req.Messages) == 0 {
		req.Messages = snap.Messages
	}
	if req.Summary == "" {
		req.Summary = snap.Summary
	}
	if req.LoopCount == 0 {
		req.LoopCount = snap.LoopCount
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp := orchestrator.New(cfg, logger).Turn(ctx, &req)

	if !turnNoPersist {
		if err := persistTurn(store, &req, resp); err != nil {
			logger.Warn("persist turn", zap.Error(err))
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}

// persistTurn appends the assistant reply to the stored history and records
// the routing outcome for the next turn.
func persistTurn(store *session.Store, req *types.TurnRequest, resp *types.TurnResponse) error {
	messages := req.Messages
	if resp.Content != "" {
		messages = append(messages, types.Message{Role: types.RoleAssistant, Content: resp.Content})
	}
	summary := resp.Summary
	if summary == "" {
		summary = req.Summary
	}
	return store.Save(req.ConversationID, &session.Snapshot{
		Messages:  messages,
		Summary:   summary,
		LoopCount: resp.LoopCount,
		LastRole:  resp.Role.RoleID,
		LastTier:  string(resp.Role.ToolTier),
		LastAllow: resp.Role.AllowCanvasTools,
	})
}
