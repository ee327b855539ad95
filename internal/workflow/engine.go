// Package workflow drives cartable items through their definitions: it
// creates instances and applies user actions as revision-checked updates.
package workflow

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/cartable/internal/adapter"
	"github.com/pitabwire/cartable/internal/cartable"
	"github.com/pitabwire/cartable/internal/definition"
	"github.com/pitabwire/cartable/internal/events"
	"github.com/pitabwire/cartable/internal/inbox"
	"github.com/pitabwire/cartable/internal/observability"
	"github.com/pitabwire/cartable/model"
)

// DefaultArchiveRole owns closed items unless configured otherwise.
const DefaultArchiveRole = "ARCHIVE"

// StartRequest describes a new workflow instance.
type StartRequest struct {
	Module       string         `json:"module"`
	TrackingCode string         `json:"tracking_code"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Data         map[string]any `json:"data"`
}

// ActionRequest describes a user action on an item. ExpectedRevision is
// optional; when positive it must match the stored revision.
type ActionRequest struct {
	ItemID           string `json:"item_id"`
	ActionID         string `json:"action_id"`
	Comment          string `json:"comment"`
	ExpectedRevision int64  `json:"expected_revision"`
}

// Access decides who may read or act on an item. inbox.Policy implements
// it.
type Access interface {
	CanAct(item model.CartableItem, user *model.RequestContext, caps model.CapabilitySet) bool
	CanRead(item model.CartableItem, user *model.RequestContext, caps model.CapabilitySet) bool
}

// Engine manages the lifecycle of cartable items.
type Engine struct {
	definitions *definition.Store
	items       *cartable.Store
	access      Access
	hooks       *adapter.Registry
	publisher   events.Publisher
	metrics     *observability.Metrics
	logger      *zap.Logger
	archiveRole string
	// sensitiveFields are masked when item data is logged.
	sensitiveFields []string
	now             func() time.Time
	newID           func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithHooks sets the module hook registry.
func WithHooks(r *adapter.Registry) Option {
	return func(e *Engine) { e.hooks = r }
}

// WithAccess sets the item access policy. The default policy has no
// broadcast modules.
func WithAccess(a Access) Option {
	return func(e *Engine) { e.access = a }
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithArchiveRole sets the role that owns closed items.
func WithArchiveRole(role string) Option {
	return func(e *Engine) {
		if role != "" {
			e.archiveRole = role
		}
	}
}

// WithSensitiveFields adds item data keys to mask in debug logs.
func WithSensitiveFields(fields []string) Option {
	return func(e *Engine) { e.sensitiveFields = fields }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a new workflow engine.
func NewEngine(definitions *definition.Store, items *cartable.Store, opts ...Option) *Engine {
	e := &Engine{
		definitions: definitions,
		items:       items,
		access:      inbox.Policy{},
		hooks:       adapter.NewRegistry(),
		publisher:   events.NoopPublisher{},
		logger:      zap.NewNop(),
		archiveRole: DefaultArchiveRole,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartWorkflow creates an item at the first step of the module's active
// definition. A module without one gets the single-step fallback, so only
// store failures produce an error.
func (e *Engine) StartWorkflow(ctx context.Context, rctx *model.RequestContext, req StartRequest) (item model.CartableItem, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.start",
		observability.AttrModule.String(req.Module),
		observability.AttrSubjectID.String(rctx.SubjectID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()
	logger := observability.RequestLogger(ctx, e.logger)

	if req.Module == "" {
		return model.CartableItem{}, model.NewBadRequestError("module is required")
	}

	// 1. Select the active definition, or synthesize the fallback.
	def, ok, err := e.definitions.Active(ctx, req.Module)
	if err != nil {
		return model.CartableItem{}, err
	}
	if !ok {
		def = definition.Fallback(req.Module)
		logger.Warn("no active definition, using fallback",
			zap.String("module", req.Module),
		)
	}
	first := def.FirstStep()
	if first == nil {
		return model.CartableItem{}, model.NewValidationError([]model.FieldError{{
			Field:   "steps",
			Code:    "REQUIRED",
			Message: fmt.Sprintf("active definition %q has no steps", def.ID),
		}})
	}

	// 2. Position the item at the first step.
	now := e.now()
	id := e.newID()
	item = model.CartableItem{
		ID:            id,
		WorkflowID:    def.ID,
		TrackingCode:  req.TrackingCode,
		Module:        req.Module,
		Title:         req.Title,
		Description:   req.Description,
		CurrentStepID: first.ID,
		InitiatorID:   rctx.SubjectID,
		InitiatorRole: rctx.Role,
		Status:        model.ItemStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if item.TrackingCode == "" {
		item.TrackingCode = trackingCode(req.Module, id)
	}

	// 3. Resolve the initial assignee.
	item.AssigneeRole, item.AssigneeID = resolveAssignee(*first, item.InitiatorID, item.InitiatorRole)

	// 4. Merge caller data with the forced initial status, then persist.
	item.Data = make(map[string]any, len(req.Data)+1)
	maps.Copy(item.Data, req.Data)
	item.Data[model.DataKeyStatus] = model.MirrorStatusRequest

	item, err = e.items.Create(ctx, item)
	if err != nil {
		return model.CartableItem{}, err
	}

	span.SetAttributes(observability.ItemAttributes(item)...)
	e.metrics.RecordWorkflowStart(item.Module, definition.IsFallbackID(def.ID))
	logger = logger.With(observability.ItemFields(item)...)
	logger.Info("workflow started", zap.String("assignee_role", item.AssigneeRole))
	if ce := logger.Check(zap.DebugLevel, "workflow start data"); ce != nil {
		ce.Write(zap.Any("data", observability.RedactData(item.Data, e.sensitiveFields)))
	}
	e.publish(ctx, events.TypeItemCreated, item, rctx.SubjectID, "", "")
	return item, nil
}

// ProcessAction applies an action to an item's current step. Expected
// rejections are reported through the Outcome kind; the error is reserved
// for store failures and revision conflicts. Nothing is written unless the
// outcome is APPLIED.
func (e *Engine) ProcessAction(ctx context.Context, rctx *model.RequestContext, req ActionRequest) (outcome model.Outcome, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "workflow.process_action",
		observability.AttrItemID.String(req.ItemID),
		observability.AttrActionID.String(req.ActionID),
		observability.AttrSubjectID.String(rctx.SubjectID),
	)
	module := ""
	defer func() {
		if err == nil {
			span.SetAttributes(observability.AttrOutcome.String(string(outcome.Kind)))
			e.metrics.RecordWorkflowAction(metricModule(module), string(outcome.Kind), time.Since(start))
		}
		observability.EndSpanWithError(span, err)
	}()
	logger := observability.RequestLogger(ctx, e.logger).With(
		zap.String("item_id", req.ItemID),
		zap.String("action_id", req.ActionID),
	)

	// 1. Load the item.
	item, err := e.items.Get(ctx, req.ItemID)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			logger.Warn("action on missing item")
			return model.Rejected(model.OutcomeItemNotFound, nil, "item %q not found", req.ItemID), nil
		}
		return model.Outcome{}, err
	}
	module = item.Module
	span.SetAttributes(observability.ItemAttributes(item)...)
	caps := model.CapabilitiesFrom(ctx)
	if item.IsDone() {
		closed := &item
		if !e.access.CanRead(item, rctx, caps) {
			closed = nil
		}
		return model.Rejected(model.OutcomeItemClosed, closed, "item %q is already closed", item.ID), nil
	}

	// 2. Only the current assignee may act.
	if !e.access.CanAct(item, rctx, caps) {
		logger.Warn("action by non-assignee",
			zap.String("step_id", item.CurrentStepID),
			zap.String("assignee_role", item.AssigneeRole),
			zap.String("role", rctx.Role),
		)
		return model.Rejected(model.OutcomeForbidden, nil, "step %q of item %q is not assigned to %s", item.CurrentStepID, item.ID, rctx.SubjectID), nil
	}

	// 3. Check the caller's revision.
	if req.ExpectedRevision > 0 && req.ExpectedRevision != item.Revision {
		return model.Outcome{}, model.NewConflictError(fmt.Sprintf(
			"item %q is at revision %d, expected %d", item.ID, item.Revision, req.ExpectedRevision))
	}

	// 4. Load the owning definition.
	def, err := e.definitions.Get(ctx, item.WorkflowID)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			logger.Warn("item references missing definition", zap.String("workflow_id", item.WorkflowID))
			return model.Rejected(model.OutcomeDefinitionNotFound, &item, "definition %q not found", item.WorkflowID), nil
		}
		return model.Outcome{}, err
	}

	// 5. Resolve the current step and the action.
	from := def.FindStep(item.CurrentStepID)
	if from == nil {
		logger.Warn("item positioned at unknown step", zap.String("step_id", item.CurrentStepID))
		return model.Rejected(model.OutcomeStepNotFound, &item, "step %q not found in definition %q", item.CurrentStepID, def.ID), nil
	}
	action := from.FindAction(req.ActionID)
	if action == nil {
		return model.Rejected(model.OutcomeActionNotFound, &item, "action %q not available at step %q", req.ActionID, from.ID), nil
	}

	// 6. Compute the transition.
	next := item
	next.Data = maps.Clone(item.Data)
	next.UpdatedAt = e.now()

	t := &adapter.Transition{
		Item:       &next,
		Definition: def,
		From:       *from,
		Action:     *action,
		Actor:      rctx,
	}

	if action.IsTerminal() {
		next.Status = model.ItemStatusDone
		next.AssigneeRole = e.archiveRole
		next.AssigneeID = ""
		next.Description = fmt.Sprintf("Closed by %s (%s).", rctx.Name(), actionName(*action))
	} else {
		to := def.FindStep(action.NextStepID)
		if to == nil {
			logger.Error("action targets unknown step",
				zap.String("workflow_id", def.ID),
				zap.String("next_step_id", action.NextStepID),
			)
			return model.Rejected(model.OutcomeDanglingTarget, &item,
				"action %q of step %q targets unknown step %q", action.ID, from.ID, action.NextStepID), nil
		}
		t.To = to
		next.CurrentStepID = to.ID
		next.AssigneeRole, next.AssigneeID = resolveAssignee(*to, item.InitiatorID, item.InitiatorRole)
		next.Description = fmt.Sprintf("Sent to %s by %s (%s).", stepName(*to), rctx.Name(), actionName(*action))
	}

	next.History = append(append([]model.HistoryEntry(nil), item.History...), model.HistoryEntry{
		StepID:    from.ID,
		ActionID:  action.ID,
		ToStepID:  action.NextStepID,
		ActorID:   rctx.SubjectID,
		ActorRole: rctx.Role,
		Comment:   req.Comment,
		At:        next.UpdatedAt,
	})

	// 7. Module hooks see the computed state before it is written.
	if err := e.hooks.Run(ctx, t); err != nil {
		return model.Outcome{}, fmt.Errorf("module hook for %s: %w", item.Module, err)
	}

	// 8. Persist as one revision-checked update.
	saved, err := e.items.Update(ctx, next)
	if err != nil {
		return model.Outcome{}, err
	}

	terminal := action.IsTerminal()
	if terminal {
		e.metrics.RecordWorkflowCompletion(saved.Module)
	}
	logger.Info("workflow transition applied",
		zap.String("module", saved.Module),
		zap.String("from_step", from.ID),
		zap.String("to_step", action.NextStepID),
		zap.String("assignee_role", saved.AssigneeRole),
		zap.Int64("revision", saved.Revision),
	)

	evType := events.TypeTransitionApplied
	if terminal {
		evType = events.TypeItemClosed
	}
	e.publish(ctx, evType, saved, rctx.SubjectID, from.ID, action.ID)

	return model.Outcome{Kind: model.OutcomeApplied, Item: &saved, Terminal: terminal}, nil
}

// Get returns an item the caller may read.
func (e *Engine) Get(ctx context.Context, rctx *model.RequestContext, itemID string) (model.CartableItem, error) {
	item, err := e.items.Get(ctx, itemID)
	if err != nil {
		return model.CartableItem{}, err
	}
	if !e.access.CanRead(item, rctx, model.CapabilitiesFrom(ctx)) {
		return model.CartableItem{}, model.NewForbiddenError(fmt.Sprintf("item %q is not visible to %s", itemID, rctx.SubjectID))
	}
	return item, nil
}

// Actions returns the actions available at the item's current step. Closed
// items and items at an unknown step have none.
func (e *Engine) Actions(ctx context.Context, rctx *model.RequestContext, itemID string) ([]model.Action, error) {
	item, err := e.Get(ctx, rctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.IsDone() {
		return []model.Action{}, nil
	}
	def, err := e.definitions.Get(ctx, item.WorkflowID)
	if err != nil {
		return nil, err
	}
	step := def.FindStep(item.CurrentStepID)
	if step == nil {
		return []model.Action{}, nil
	}
	return append([]model.Action{}, step.Actions...), nil
}

// History returns the applied actions of an item, oldest first.
func (e *Engine) History(ctx context.Context, rctx *model.RequestContext, itemID string) ([]model.HistoryEntry, error) {
	item, err := e.Get(ctx, rctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.History == nil {
		return []model.HistoryEntry{}, nil
	}
	return item.History, nil
}

// publish emits an event after persistence. Failures are logged and
// counted but never undo the transition.
func (e *Engine) publish(ctx context.Context, typ string, item model.CartableItem, actor, fromStep, actionID string) {
	ev := events.Event{
		ID:           e.newID(),
		Type:         typ,
		ItemID:       item.ID,
		Module:       item.Module,
		WorkflowID:   item.WorkflowID,
		TrackingCode: item.TrackingCode,
		FromStepID:   fromStep,
		ToStepID:     item.CurrentStepID,
		ActionID:     actionID,
		ActorID:      actor,
		AssigneeRole: item.AssigneeRole,
		AssigneeID:   item.AssigneeID,
		Status:       item.Status,
		Revision:     item.Revision,
		OccurredAt:   item.UpdatedAt,
	}
	if typ == events.TypeItemClosed {
		ev.ToStepID = model.StepFinish
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.metrics.RecordEventPublishFailure()
		observability.RequestLogger(ctx, e.logger).Warn("event publish failed",
			zap.String("event_type", typ),
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
}

// resolveAssignee maps a step's assignee role onto an item. INITIATOR binds
// both the initiator's role and the initiator's id.
func resolveAssignee(step model.Step, initiatorID, initiatorRole string) (role, id string) {
	if step.AssigneeRole == model.AssigneeInitiator {
		return initiatorRole, initiatorID
	}
	return step.AssigneeRole, ""
}

func trackingCode(module, id string) string {
	short := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(short) > 8 {
		short = short[:8]
	}
	return module + "-" + short
}

func actionName(a model.Action) string {
	if a.Label != "" {
		return a.Label
	}
	return a.ID
}

func stepName(s model.Step) string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

func metricModule(module string) string {
	if module == "" {
		return "unknown"
	}
	return module
}
