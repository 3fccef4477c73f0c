package terminal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"
)

const (
	readBufferSize = 32 * 1024
	// maxChunkBytes caps one drained chunk so a flooding process still
	// yields to history and the channel regularly.
	maxChunkBytes = 256 * 1024
)

// relay moves a session's output to history and the attached channel until
// the process exits or ctx is cancelled. It is the only reader of the
// process. On return the descriptor is deregistered and relayDone closed.
func (m *Manager) relay(ctx context.Context, s *Session, fd int) {
	defer close(s.relayDone)
	defer func() {
		if err := m.poller.Unregister(fd); err != nil {
			m.log.Warn().Err(err).Str("session", s.ID).Msg("unregister from reactor")
		}
	}()

	log := m.log.With().Str("session", s.ID).Logger()
	dec := newUTF8Decoder()
	buf := make([]byte, readBufferSize)
	ticker := time.NewTicker(m.liveness)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("relay cancelled")
			return
		case <-s.notify:
			if !m.drain(s, dec, buf) {
				log.Info().Msg("terminal hung up, relay stopped")
				return
			}
		case <-ticker.C:
			if !s.proc.Alive() {
				m.drain(s, dec, buf)
				log.Info().Err(ErrProcessDead).Msg("relay stopped")
				return
			}
		}
	}
}

// drain reads everything currently available and delivers it as chunks.
// It returns false once the terminal reports end of output.
func (m *Manager) drain(s *Session, dec *utf8Decoder, buf []byte) bool {
	var pending bytes.Buffer
	open := true
	for open {
		n, err := s.proc.Read(buf)
		if n > 0 {
			m.metrics.Output(n)
			pending.Write(buf[:n])
			if pending.Len() >= maxChunkBytes {
				m.deliver(s, dec.decode(pending.Bytes(), false))
				pending.Reset()
			}
		}
		switch {
		case err != nil:
			if !errors.Is(err, io.EOF) {
				m.log.Warn().Err(err).Str("session", s.ID).Msg("read terminal output")
			}
			open = false
		case n == 0:
			// Would block: everything available has been read.
			m.deliver(s, dec.decode(pending.Bytes(), false))
			return true
		}
	}
	m.deliver(s, dec.decode(pending.Bytes(), true))
	return false
}

// deliver appends text to history and forwards it to the attached channel
// as one step under the session lock. A failed forward detaches the channel.
func (m *Manager) deliver(s *Session, text string) {
	if text == "" {
		return
	}
	m.metrics.OutputChunk()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	m.history.Append(s.ID, text)
	if s.channel == nil {
		return
	}
	if err := s.channel.Send(text); err != nil {
		s.channel = nil
		m.metrics.ForwardFailed()
		m.metrics.Detached()
		m.log.Warn().Err(err).Str("session", s.ID).Msg("forward failed, channel detached")
	}
}
