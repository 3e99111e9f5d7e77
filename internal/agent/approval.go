package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/steward/internal/store"
	"github.com/haasonsaas/steward/pkg/models"
)

// deniedResult is what the model sees when an approval does not go
// through, whatever the reason.
const deniedResult = "User denied the request."

// pendingApproval is a one-shot rendezvous between the loop waiting
// for a decision and whoever resolves it first: the platform handler,
// an ApprovePending/DenyPending call, or the timeout.
type pendingApproval struct {
	approval *models.Approval
	decision chan bool
	once     sync.Once
}

// resolve delivers a decision. Only the first call wins; later calls
// report false and change nothing.
func (p *pendingApproval) resolve(approved bool) bool {
	resolved := false
	p.once.Do(func() {
		p.decision <- approved
		resolved = true
	})
	return resolved
}

// RegisterApprovalHandler installs the approval handler for one
// platform. Registering again replaces the previous handler.
func (a *Agent) RegisterApprovalHandler(platform models.Platform, handler ApprovalHandler) {
	a.approvalMu.Lock()
	defer a.approvalMu.Unlock()
	a.handlers[platform] = handler
	a.logger.Info("approval handler registered", "platform", platform)
}

// ApprovePending resolves a pending approval positively. Returns
// whether a waiting loop was released; resolving an already resolved
// or unknown id is a no-op.
func (a *Agent) ApprovePending(id string) bool {
	return a.resolvePending(id, true)
}

// DenyPending resolves a pending approval negatively. Same idempotency
// rules as ApprovePending.
func (a *Agent) DenyPending(id string) bool {
	return a.resolvePending(id, false)
}

func (a *Agent) resolvePending(id string, approved bool) bool {
	a.approvalMu.RLock()
	p, ok := a.pending[id]
	a.approvalMu.RUnlock()
	if !ok {
		return false
	}
	return p.resolve(approved)
}

// PendingApprovals lists the approvals currently awaiting a decision,
// oldest first.
func (a *Agent) PendingApprovals() []*models.Approval {
	a.approvalMu.RLock()
	defer a.approvalMu.RUnlock()

	out := make([]*models.Approval, 0, len(a.pending))
	for _, p := range a.pending {
		out = append(out, p.approval)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// requestApproval opens an approval for a tool call and blocks until
// it is decided or times out. Timeout, handler errors, and a missing
// handler all come back as deny. The outcome is recorded for history
// either way.
func (a *Agent) requestApproval(ctx context.Context, userID string, platform models.Platform, call models.ToolCall, amount *float64, description string) bool {
	now := a.now()
	approval := &models.Approval{
		ID:          uuid.NewString(),
		UserID:      userID,
		Tool:        call.Name,
		Arguments:   call.Arguments,
		Amount:      amount,
		Description: description,
		CreatedAt:   now,
		ExpiresAt:   now.Add(a.cfg.ApprovalTimeout),
	}
	p := &pendingApproval{approval: approval, decision: make(chan bool, 1)}

	a.approvalMu.Lock()
	handler := a.handlers[platform]
	a.pending[approval.ID] = p
	a.approvalMu.Unlock()
	defer func() {
		a.approvalMu.Lock()
		delete(a.pending, approval.ID)
		a.approvalMu.Unlock()
	}()

	approved := false
	outcome := models.ApprovalDenied
	if handler == nil {
		a.logger.Warn("no approval handler for platform, denying", "platform", platform, "tool", call.Name)
	} else {
		go func() {
			ok, err := handler(ctx, approval)
			if err != nil {
				a.logger.Warn("approval handler failed", "tool", call.Name, "error", err)
				p.resolve(false)
				return
			}
			p.resolve(ok)
		}()

		timer := time.NewTimer(a.cfg.ApprovalTimeout)
		defer timer.Stop()
		select {
		case approved = <-p.decision:
			if approved {
				outcome = models.ApprovalApproved
			}
		case <-timer.C:
			p.resolve(false)
			outcome = models.ApprovalExpired
			a.logger.Info("approval timed out", "tool", call.Name, "id", approval.ID)
		case <-ctx.Done():
			p.resolve(false)
		}
	}

	if a.metrics != nil {
		a.metrics.RecordApproval(string(outcome))
	}

	record := &store.ApprovalRecord{
		ID:          approval.ID,
		UserID:      userID,
		Tool:        call.Name,
		Description: description,
		Amount:      amount,
		Outcome:     outcome,
		CreatedAt:   approval.CreatedAt,
		ResolvedAt:  a.now(),
	}
	if err := a.store.RecordApproval(context.WithoutCancel(ctx), record); err != nil {
		a.logger.Warn("failed to record approval outcome", "id", approval.ID, "error", err)
	}

	return approved
}
