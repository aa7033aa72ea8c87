// Package orchestrator sequences one conversation turn: role routing,
// optional knowledge-base retrieval, answer synthesis with canvas tools,
// the deterministic story pipeline, safety and continuity gating, quick
// replies and background summarization. Every turn produces a response,
// even when every model call fails.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"tapcanvas/internal/articulation"
	"tapcanvas/internal/canvas"
	"tapcanvas/internal/config"
	"tapcanvas/internal/continuity"
	"tapcanvas/internal/perception"
	"tapcanvas/internal/pipeline"
	"tapcanvas/internal/prompt"
	"tapcanvas/internal/retrieval"
	"tapcanvas/internal/roles"
	"tapcanvas/internal/router"
	"tapcanvas/internal/safety"
	"tapcanvas/internal/session"
	"tapcanvas/internal/types"
)

// Clients are the per-stage model clients. Any of them may be nil; the
// owning stage then degrades to its documented fallback.
type Clients struct {
	Router     types.LLMClient
	Answer     types.LLMClient
	Safety     types.LLMClient
	Summarizer types.LLMClient
}

// Orchestrator runs the turn state machine.
type Orchestrator struct {
	cfg        config.Config
	logger     *zap.Logger
	router     *router.Router
	rag        *retrieval.Client
	summarizer *session.Summarizer
	answer     types.LLMClient
	safety     types.LLMClient

	// answerErr remembers why the answer client could not be built, so the
	// turn can apologize with the right failure kind.
	answerErr error
}

// New builds an orchestrator, constructing one client per stage model. A
// missing provider credential does not fail construction: the affected
// stages fall back and the answer stage reports the credential problem.
func New(cfg config.Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	clients := Clients{}
	var answerErr error
	if c, err := perception.NewClient(&cfg, cfg.Models.RoleSelector); err == nil {
		clients.Router = c
	}
	if c, err := perception.NewClient(&cfg, cfg.Models.Answer); err == nil {
		clients.Answer = c
	} else {
		answerErr = err
	}
	if c, err := perception.NewClient(&cfg, cfg.Models.SafetyClassifier); err == nil {
		clients.Safety = c
	}
	if c, err := perception.NewClient(&cfg, cfg.Models.Summarizer); err == nil {
		clients.Summarizer = c
	}
	o := NewWithClients(cfg, clients, logger)
	o.answerErr = answerErr
	return o
}

// NewWithClients wires explicit clients, bypassing provider detection.
func NewWithClients(cfg config.Config, clients Clients, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		router:     router.New(clients.Router, logger),
		rag:        retrieval.NewClient(cfg.AutoRAG, logger),
		summarizer: session.NewSummarizer(clients.Summarizer, cfg.Summarizer, logger),
		answer:     clients.Answer,
		safety:     clients.Safety,
	}
}

// turnState accumulates the outputs of each stage. Stages take and return
// it by value so each transition is an explicit snapshot.
type turnState struct {
	req      *types.TurnRequest
	mode     types.InteractionMode
	lastUser string

	decision  types.RoleDecision
	loopCount int

	snippets []string
	sources  []types.Source

	text    string
	calls   []types.ToolCall
	replies []types.QuickReply
	safety  *types.SafetyDecision
	llmErr  *types.LLMError

	// story pipeline override for this turn; skips the answer model call.
	pipelined bool
	// the user is asking for continuation directions, not generation; the
	// continuity gate stands down regardless of mode.
	suggestion bool
	// a failed answer call short-circuits the gating stages.
	failed bool
}

// Turn runs the full state machine for one request.
func (o *Orchestrator) Turn(ctx context.Context, req *types.TurnRequest) *types.TurnResponse {
	mode := req.Mode
	if !mode.Valid() {
		mode = types.ModeAgent
	}
	s := turnState{
		req:       req,
		mode:      mode,
		lastUser:  req.LastUserText(),
		loopCount: req.LoopCount + 1,
	}
	s.suggestion = continuity.IsStorySuggestionRequest(s.lastUser)

	s = o.selectRole(ctx, s)
	s = o.retrieveKnowledge(ctx, s)
	s = o.synthesizeAnswer(ctx, s)
	if !s.failed {
		s = o.applySafetyGate(ctx, s)
		s = o.applySuggestionOverride(s)
		s = o.applyContinuityGate(s)
		s = o.applyRouterVeto(s)
		s = o.postProcessCalls(s)
		s = o.finalizeContent(s)
	}
	s = o.resolveSources(s)

	summary := o.summarizer.Maybe(ctx, req.Messages, req.Summary, canvas.RenderForPrompt(req.Canvas))

	o.logger.Info("turn complete",
		zap.String("conversation", req.ConversationID),
		zap.String("role", s.decision.RoleID),
		zap.String("tier", string(s.decision.ToolTier)),
		zap.Int("toolCalls", len(s.calls)),
		zap.Int("quickReplies", len(s.replies)),
		zap.Bool("pipelined", s.pipelined),
		zap.Bool("failed", s.failed))

	return &types.TurnResponse{
		Content:      s.text,
		ToolCalls:    s.calls,
		QuickReplies: s.replies,
		Role:         s.decision,
		Safety:       s.safety,
		Summary:      summary,
		LoopCount:    s.loopCount,
		Sources:      s.sources,
		LLMError:     s.llmErr,
	}
}

func (o *Orchestrator) selectRole(ctx context.Context, s turnState) turnState {
	s.decision = o.router.Select(ctx, s.req)
	return s
}

func (o *Orchestrator) retrieveKnowledge(ctx context.Context, s turnState) turnState {
	if s.decision.ToolTier != types.TierRAG || !o.rag.Enabled() {
		return s
	}
	query := retrieval.BuildQuery(s.req.Summary, s.req.Messages)
	s.snippets, s.sources = o.rag.Retrieve(ctx, query)
	return s
}

// synthesizeAnswer produces the draft reply. Story-shaped input in a
// self-executing mode takes the deterministic pipeline instead of the model
// call; everything else goes through the tool-enabled answer model under a
// wall-clock budget.
func (o *Orchestrator) synthesizeAnswer(ctx context.Context, s turnState) turnState {
	agentish := s.mode == types.ModeAgent || s.mode == types.ModeAgentMax
	if s.decision.AllowCanvasTools && agentish &&
		pipeline.LooksLikeStoryRequest(s.lastUser) && !pipeline.HasCanvasOptOut(s.lastUser) {
		s.text, s.calls = pipeline.Synthesize(ctx, o.answer, s.lastUser, s.mode, s.req.Canvas)
		s.pipelined = true
		return s
	}

	if o.answer == nil {
		err := o.answerErr
		if err == nil {
			err = perception.NewCallError(perception.KindMissingCredential, "no answer model configured")
		}
		return o.failAnswer(s, err)
	}

	p := prompt.Answer(prompt.AnswerParams{
		CurrentDate:     prompt.CurrentDate(time.Now()),
		InteractionMode: string(s.mode),
		ResearchTopic:   session.TopicWithSummary(s.req.Summary, s.req.Messages, 16),
		RoleDirective:   o.roleDirective(s.decision),
		Summaries:       s.snippets,
		CanvasContext:   canvas.RenderForPrompt(s.req.Canvas),
	})

	budget := time.Duration(o.cfg.Limits.AnswerBudgetSeconds) * time.Second
	if budget <= 0 {
		budget = 600 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	tools := canvas.DefinitionsForRole(s.decision.RoleID, s.decision.AllowCanvasTools)
	resp, err := o.answer.CompleteWithTools(callCtx, p, tools)
	if err != nil {
		return o.failAnswer(s, err)
	}

	if resp.TimedOut {
		s.text = o.timeoutFallback(s, resp.Text)
		s.calls = nil
		return s
	}
	s.text = resp.Text
	s.calls = canvas.FilterCallsByRole(resp.ToolCalls, s.decision.RoleID, s.decision.AllowCanvasTools)

	// Explicit turnaround request with an empty tool-call response: build
	// the minimal character reference nodes instead of explaining prompts.
	if s.mode == types.ModeAgentMax && s.decision.AllowCanvasTools &&
		len(s.calls) == 0 && pipeline.MentionsTurnaround(s.lastUser) {
		s.calls = pipeline.TurnaroundFallbackCalls(s.req.Messages)
	}
	return s
}

func (o *Orchestrator) failAnswer(s turnState, err error) turnState {
	kind := perception.KindOf(err)
	s.llmErr = &types.LLMError{Type: string(kind), Message: err.Error()}
	var ce *perception.CallError
	if errors.As(err, &ce) {
		s.llmErr.Message = ce.Message
		s.llmErr.Status = ce.Status
	}
	switch kind {
	case perception.KindMissingCredential:
		s.text = "无法生成最终答案：后端未配置模型密钥（请检查 OPENAI_API_KEY / GEMINI_API_KEY）。"
	case perception.KindProvider, perception.KindConnectivity, perception.KindTimeout:
		s.text = "无法生成最终答案：OpenAI 接口异常（" + s.llmErr.Message + "）。"
	default:
		s.text = "无法生成最终答案：运行时异常。"
	}
	s.calls = nil
	s.failed = true
	o.logger.Warn("answer synthesis failed", zap.String("kind", string(kind)), zap.Error(err))
	return s
}

// timeoutFallback keeps whatever partial answer arrived, or falls back to
// the best available material: the first retrieval snippet, the compact
// topic, then a generic notice.
func (o *Orchestrator) timeoutFallback(s turnState, partial string) string {
	if base := strings.TrimSpace(partial); base != "" {
		return base + "\n\n结论：生成超时，先给出当前可用结论。如需更完整细节，请让我继续。"
	}
	for _, snippet := range s.snippets {
		if sn := strings.TrimSpace(snippet); sn != "" {
			sn = clampCompact(sn, 400)
			return "结论：" + sn + "\n\n（生成超时，先给结论。如需更完整细节，请让我继续。）"
		}
	}
	if topic := strings.TrimSpace(session.TopicWithSummary(s.req.Summary, s.req.Messages, 8)); topic != "" {
		topic = clampCompact(topic, 240)
		return "结论：" + topic + "\n\n（生成超时，先给结论。如需更完整细节，请让我继续。）"
	}
	return "结论：生成超时，先给结论。当前信息不足，建议拆分问题或补充关键细节后继续。"
}

func (o *Orchestrator) applySafetyGate(ctx context.Context, s turnState) turnState {
	var planned []string
	for _, c := range s.calls {
		if c.Name != canvas.OpCreateNode {
			continue
		}
		if cfg, ok := c.Arguments["config"].(map[string]interface{}); ok {
			if p, ok := cfg["prompt"].(string); ok && strings.TrimSpace(p) != "" {
				planned = append(planned, p)
			}
		}
	}
	decision := safety.Classify(ctx, o.safety, s.lastUser, planned)
	s.safety = &decision

	text, calls, menus, blocked := safety.Apply(decision, s.text, s.calls)
	s.text = text
	s.calls = calls
	if blocked {
		s.replies = menus
		o.logger.Info("turn blocked by safety gate", zap.String("reason", decision.Reason))
	}
	return s
}

// applySuggestionOverride answers open-ended continuation requests in plan
// mode with a direction menu instead of canvas mutations.
func (o *Orchestrator) applySuggestionOverride(s turnState) turnState {
	if s.mode != types.ModePlan || !s.suggestion {
		return s
	}
	if strings.Contains(s.text, articulation.ActionsMarker) {
		return s
	}
	s.calls = nil
	s.replies = continuity.SuggestionMenus()
	s.text = continuity.SuggestionText
	return s
}

func (o *Orchestrator) applyContinuityGate(s turnState) turnState {
	intent := continuity.StoryboardGenerationIntent(s.lastUser, hasCanvasCalls(s.calls))
	if !intent || s.suggestion {
		return s
	}
	if continuity.LockConfirmed(s.lastUser, s.mode, intent, s.loopCount, o.cfg.Limits.HardMaxTurnLoops) {
		return s
	}
	s.calls = nil
	if s.replies == nil {
		s.replies = continuity.LockMenus(continuity.ExtractStyleLock(s.req.Messages))
	}
	if strings.TrimSpace(s.text) == "" {
		s.text = continuity.GateFallbackText
	} else {
		s.text = strings.TrimSpace(s.text) + continuity.GateAppendText
	}
	return s
}

// applyRouterVeto enforces the router's capability decision after the
// narrative gate: without canvas permission no mutation leaves the turn.
func (o *Orchestrator) applyRouterVeto(s turnState) turnState {
	if s.decision.AllowCanvasTools {
		return s
	}
	s.calls = nil
	if s.replies == nil {
		s.replies = continuity.VetoMenus()
	}
	if strings.TrimSpace(s.text) == "" {
		s.text = continuity.VetoFallbackText
	}
	return s
}

func (o *Orchestrator) postProcessCalls(s turnState) turnState {
	// The deterministic pipeline already emits normalized, fully wired
	// calls; re-normalizing would drop its intentional video auto-run.
	if len(s.calls) == 0 || s.pipelined {
		return s
	}
	kept, held := continuity.HoldForNewCharacter(s.calls, s.lastUser, s.req.Canvas)
	if held {
		s.calls = kept
		s.replies = continuity.NewCharacterMenus()
		s.text = continuity.NewCharacterText
	}
	s.calls = pipeline.PostProcess(s.calls, s.lastUser, s.req.Canvas)
	return s
}

// finalizeContent backfills reply text from tool calls, extracts an inline
// action menu, and attaches the next-step quick replies and hook line.
func (o *Orchestrator) finalizeContent(s turnState) turnState {
	if strings.TrimSpace(s.text) == "" && len(s.calls) > 0 {
		s.text = fallbackTextFromToolCalls(s.calls)
	}
	if strings.TrimSpace(s.text) != "" {
		cleaned, actions := articulation.ExtractActions(s.text)
		s.text = cleaned
		if actions != nil {
			s.replies = actions
		}
	}
	if len(s.calls) == 0 || s.pipelined {
		return s
	}
	if s.replies == nil {
		s.replies = synthesizeQuickReplies(s.calls)
	}
	if !strings.Contains(s.text, "下一步") && !strings.Contains(s.text, "你下一步") && !strings.Contains(s.text, "点一个") {
		s.text = strings.TrimSpace(strings.TrimSpace(s.text) + "\n\n分镜生成后，点下面选项继续。")
	}
	return s
}

// resolveSources keeps only the citations actually referenced by the reply
// and expands their short urls in place.
func (o *Orchestrator) resolveSources(s turnState) turnState {
	var unique []types.Source
	for _, src := range s.sources {
		if src.ShortURL == "" || !strings.Contains(s.text, src.ShortURL) {
			continue
		}
		s.text = strings.ReplaceAll(s.text, src.ShortURL, src.Value)
		unique = append(unique, src)
	}
	s.sources = unique
	return s
}

// roleDirective stacks the art-director supervision rubric on top of the
// active role's profile.
func (o *Orchestrator) roleDirective(d types.RoleDecision) string {
	_, profile := roles.Resolve(d.RoleID)
	directorID, director := roles.Resolve("art_director")
	reason := d.Reason
	if reason == "" {
		reason = "根据对话意图选择。"
	}
	return "总监审查（" + director.Name + "｜" + directorID + "）: " + director.Summary +
		" 审查风格：" + director.Style +
		" 你必须先审查本轮是否应该执行画布动作（tool calls）、是否需要用户确认、是否保持风格/上下文一致，再输出最终回复。\n" +
		"主执行角色（" + profile.Name + "｜" + d.RoleID + "）: " + profile.Summary + "回复风格：" + profile.Style +
		" 选择原因：" + reason
}

func hasCanvasCalls(calls []types.ToolCall) bool {
	for _, c := range calls {
		switch c.Name {
		case canvas.OpCreateNode, canvas.OpUpdateNode, canvas.OpConnectNodes, canvas.OpRunNode:
			return true
		}
	}
	return false
}

func clampCompact(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimRight(string(r[:n]), " ") + "…"
}
