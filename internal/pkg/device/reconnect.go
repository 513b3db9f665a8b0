package device

import (
	"context"
	"fmt"
	"time"

	"github.com/padgrid/midicore/internal/pkg/logger"
	"go.uber.org/zap"
)

type reconnectJob struct {
	cancel  context.CancelFunc
	attempt int
}

// scheduleReconnect spawns one supervisor goroutine per lost device.
// Attempt n waits backoffBase * 2^n before opening the device again, at most
// maxAttempts times. The per-device reconnectTimeout cancels the whole
// sequence even mid-delay so no timer can leak past it.
func (m *Manager) scheduleReconnect(info Info) {
	m.mutex.Lock()
	if _, running := m.jobs[info.ID]; running {
		m.mutex.Unlock()
		return
	}
	base, maxAttempts := m.backoffBase, m.maxAttempts
	ctx, cancel := context.WithTimeout(context.Background(), m.reconnectTimeout)
	job := &reconnectJob{cancel: cancel}
	m.jobs[info.ID] = job
	m.mutex.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.runReconnect(ctx, info, job, base, maxAttempts)
	}()
}

func (m *Manager) runReconnect(ctx context.Context, info Info, job *reconnectJob, base time.Duration, maxAttempts int) {
	for job.attempt = 0; job.attempt < maxAttempts; job.attempt++ {
		delay := base * (1 << job.attempt)
		log.Info(
			fmt.Sprintf("reconnection attempt %d/%d in %s", job.attempt+1, maxAttempts, delay),
			zap.String("device_name", info.Name), logger.Debug,
		)

		select {
		case <-ctx.Done():
			m.finishReconnect(info, false)
			return
		case <-time.After(delay):
		}

		port, err := m.transport.OpenInput(info.ID)
		if err != nil {
			continue
		}
		// reattach the port through the regular connect path
		err = port.Close()
		if err != nil {
			log.Info(fmt.Sprintf("failed to close probe port: %v", err), logger.Debug)
		}

		m.mutex.Lock()
		delete(m.jobs, info.ID)
		info.Connected = true
		m.devices[info.ID] = info
		m.mutex.Unlock()

		err = m.connectInput(info)
		if err != nil {
			log.Info(fmt.Sprintf("reconnected but input port failed: %v", err), zap.String("device_name", info.Name), logger.Warning)
		}
		log.Info("device reconnected", zap.String("device_name", info.Name), logger.Info)
		m.events.Publish(Event{Kind: Reconnected, Device: info})
		return
	}
	m.finishReconnect(info, false)
}

func (m *Manager) finishReconnect(info Info, success bool) {
	m.mutex.Lock()
	delete(m.jobs, info.ID)
	// caller has to re-enable auto-reconnect explicitly after a failure
	delete(m.autoReconnect, info.ID)
	m.mutex.Unlock()

	if !success {
		log.Info("giving up on device", zap.String("device_name", info.Name), logger.Warning)
		m.events.Publish(Event{Kind: ReconnectFailed, Device: info})
	}
}
