package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/fanout/internal/adapter/metrics"
	"github.com/pscheid92/fanout/internal/domain"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	idleTimeout       = 5 * time.Minute
	idleWarningTime   = 4 * time.Minute // Warn 1 minute before disconnect
	messageBufferSize = 16
)

var (
	errWriterClosed = errors.New("connection writer closed")
	errSlowClient   = errors.New("send buffer full")
)

type outbound struct {
	data   []byte
	result chan error
}

// clientWriter owns all writes to one socket. Payloads are queued on a bounded
// channel and written by a single goroutine, which also runs the ping keepalive.
type clientWriter struct {
	connection    *ws.Conn
	clock         clockwork.Clock
	metrics       *metrics.WebSocketMetrics
	sendChannel   chan outbound
	doneChannel   chan struct{}
	exitedChannel chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	lastActivity  time.Time
	activityMutex sync.Mutex
	warningSent   bool
}

func newClientWriter(connection *ws.Conn, clock clockwork.Clock, m *metrics.WebSocketMetrics) *clientWriter {
	cw := &clientWriter{
		connection:    connection,
		clock:         clock,
		metrics:       m,
		sendChannel:   make(chan outbound, messageBufferSize),
		doneChannel:   make(chan struct{}),
		exitedChannel: make(chan struct{}),
		lastActivity:  clock.Now(),
	}
	cw.configurePongHandler()
	cw.wg.Add(1)
	go cw.run()
	return cw
}

// send queues payload and waits until it has been written to the socket.
// A full queue fails immediately: a client that cannot keep up is treated as dead.
func (cw *clientWriter) send(ctx context.Context, payload []byte) error {
	msg := outbound{data: payload, result: make(chan error, 1)}

	select {
	case <-cw.exitedChannel:
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, errWriterClosed)
	default:
	}

	select {
	case cw.sendChannel <- msg:
	case <-cw.exitedChannel:
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, errWriterClosed)
	default:
		cw.metrics.SlowClientsEvicted.Inc()
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, errSlowClient)
	}

	select {
	case err := <-msg.result:
		return err
	case <-cw.exitedChannel:
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, errWriterClosed)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, ctx.Err())
	}
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()
	defer close(cw.exitedChannel)

	for {
		select {
		case msg := <-cw.sendChannel:
			// A stopped writer must not deliver frames queued before it was evicted.
			select {
			case <-cw.doneChannel:
				return
			default:
			}

			start := cw.clock.Now()
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(ws.TextMessage, msg.data); err != nil {
				msg.result <- fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
				_ = cw.connection.Close()
				return
			}
			cw.metrics.SendDuration.Observe(cw.clock.Since(start).Seconds())
			cw.metrics.MessagesSent.Inc()
			msg.result <- nil
		case <-ticker.Chan():
			if cw.checkIdleTimeout() {
				_ = cw.connection.Close()
				return
			}

			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(ws.PingMessage, nil); err != nil {
				cw.metrics.PingFailures.Inc()
				_ = cw.connection.Close()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a close frame with reason before closing the socket.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)

		// The run goroutine must exit first; gorilla allows one concurrent writer.
		cw.wg.Wait()

		closeMsg := ws.FormatCloseMessage(ws.CloseNormalClosure, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(ws.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

func (cw *clientWriter) configurePongHandler() {
	cw.updateReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		cw.recordActivity()
		return nil
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}

func (cw *clientWriter) updateReadDeadline() {
	_ = cw.connection.SetReadDeadline(cw.clock.Now().Add(pongDeadline))
}

func (cw *clientWriter) recordActivity() {
	cw.activityMutex.Lock()
	defer cw.activityMutex.Unlock()
	cw.lastActivity = cw.clock.Now()
	cw.warningSent = false
}

// checkIdleTimeout sends a warning shortly before the idle timeout and reports
// whether the connection should be terminated.
func (cw *clientWriter) checkIdleTimeout() bool {
	cw.activityMutex.Lock()
	idleDuration := cw.clock.Since(cw.lastActivity)
	warningSent := cw.warningSent
	cw.activityMutex.Unlock()

	if idleDuration >= idleTimeout {
		cw.metrics.IdleDisconnects.Inc()
		return true
	}

	if !warningSent && idleDuration >= idleWarningTime {
		warning := []byte(`{"warning":"Connection idle. Will disconnect if no activity within 1 minute."}`)
		cw.updateWriteDeadline()
		if err := cw.connection.WriteMessage(ws.TextMessage, warning); err == nil {
			cw.activityMutex.Lock()
			cw.warningSent = true
			cw.activityMutex.Unlock()
		}
	}

	return false
}
