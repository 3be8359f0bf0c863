package broadcast

import (
	"context"
	"time"

	"postbot/internal/eventbus"
	"postbot/internal/messages"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

func (d *Dispatcher) worker(ctx context.Context, idx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-d.queue:
			d.execJob(ctx, j, idx)
		}
	}
}

func (d *Dispatcher) execJob(ctx context.Context, j job, idx int) {
	res := Result{JobID: j.id, Initiator: j.initiator, Total: len(j.targets), StartedAt: time.Now()}
	d.log.Info("broadcast job started", logx.String("job", j.id), logx.Int("worker", idx), logx.Int("total", res.Total))

	opt := kit.HTML(nil)
	for i, id := range j.targets {
		d.mu.Lock()
		lim := d.limiter
		d.mu.Unlock()
		if err := lim.Wait(ctx); err != nil {
			// shutdown: the rest never went out
			res.Failed += len(j.targets) - i
			break
		}
		if _, ok := d.send.Text(ctx, kit.ChatTarget{ChatID: id}, j.text, opt); ok {
			res.Success++
		} else {
			res.Failed++
		}
	}
	res.FinishedAt = time.Now()

	fields := []logx.Field{
		logx.String("job", j.id),
		logx.Int("total", res.Total),
		logx.Int("success", res.Success),
		logx.Int("failed", res.Failed),
		logx.Duration("dur", res.FinishedAt.Sub(res.StartedAt)),
	}
	if res.Failed > 0 {
		d.log.Warn("broadcast job finished with failures", fields...)
	} else {
		d.log.Info("broadcast job finished", fields...)
	}

	// The report still goes out when the job was cut short by shutdown.
	rctx := context.WithoutCancel(ctx)
	d.send.Text(rctx, kit.ChatTarget{ChatID: j.initiator}, d.msgs.Text(messages.BroadcastFinished, res.Success, res.Failed), kit.HTML(nil))

	d.metrics.BroadcastJob(res.Success, res.Failed)
	d.bus.Publish(eventbus.Event{Type: eventbus.BroadcastDone, Data: res})
	j.result <- res
}
