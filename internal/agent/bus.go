package agent

import (
	"context"
	"fmt"

	"github.com/haasonsaas/steward/pkg/models"
)

const notifyTimeFormat = "2006-01-02 15:04"

// RegisterMessageHandler installs the outbound sender for a platform
// and immediately drains any notifications queued while the platform
// was offline. Each queued record is marked delivered only after its
// send succeeds, so a failed redelivery stays queued for next time.
func (a *Agent) RegisterMessageHandler(ctx context.Context, platform models.Platform, sender Sender) {
	a.senderMu.Lock()
	a.senders[platform] = sender
	a.senderMu.Unlock()
	a.logger.Info("message handler registered", "platform", platform)

	a.drainNotifications(ctx, platform)
}

// UnregisterMessageHandler removes a platform's sender. Messages for
// it queue up again until a new handler registers.
func (a *Agent) UnregisterMessageHandler(platform models.Platform) {
	a.senderMu.Lock()
	delete(a.senders, platform)
	a.senderMu.Unlock()
}

func (a *Agent) sender(platform models.Platform) Sender {
	a.senderMu.RLock()
	defer a.senderMu.RUnlock()
	return a.senders[platform]
}

// NotifyTaskComplete is the scheduler's completion hook. It composes
// the task notification and sends it to the task's platform, queuing
// it when the platform has no registered sender or the send fails.
// Delivery problems never propagate back to the scheduler.
func (a *Agent) NotifyTaskComplete(task *models.ScheduledTask, result string) {
	message := fmt.Sprintf("⏰ %s\nRun time: %s\nResult: %s",
		task.Name, a.now().Local().Format(notifyTimeFormat), result)

	ctx := context.Background()
	if sender := a.sender(task.Platform); sender != nil {
		err := sender(ctx, task.UserID, message)
		if err == nil {
			a.recordNotification(task.Platform, "delivered")
			a.logger.Debug("task notification sent", "task", task.Name, "platform", task.Platform)
			return
		}
		a.logger.Warn("task notification send failed, queuing", "task", task.Name, "error", err)
	}

	n := &models.Notification{
		TaskID:   task.ID,
		UserID:   task.UserID,
		Platform: task.Platform,
		Message:  message,
	}
	if err := a.store.EnqueueNotification(ctx, n); err != nil {
		a.logger.Error("failed to queue task notification", "task", task.Name, "error", err)
		return
	}
	a.recordNotification(task.Platform, "queued")
	a.logger.Info("task notification queued", "task", task.Name, "platform", task.Platform)
}

func (a *Agent) recordNotification(platform models.Platform, status string) {
	if a.metrics != nil {
		a.metrics.RecordNotification(string(platform), status)
	}
}

// drainNotifications sends every queued notification for a platform
// through its current sender, marking each delivered on success.
func (a *Agent) drainNotifications(ctx context.Context, platform models.Platform) {
	sender := a.sender(platform)
	if sender == nil {
		return
	}

	queued, err := a.store.PendingNotifications(ctx, platform)
	if err != nil {
		a.logger.Warn("failed to load queued notifications", "platform", platform, "error", err)
		return
	}
	for _, n := range queued {
		if err := sender(ctx, n.UserID, n.Message); err != nil {
			a.logger.Warn("queued notification delivery failed", "id", n.ID, "error", err)
			continue
		}
		a.recordNotification(platform, "delivered")
		if err := a.store.MarkNotificationDelivered(ctx, n.ID, a.now()); err != nil {
			a.logger.Warn("failed to mark notification delivered", "id", n.ID, "error", err)
		}
	}
}
