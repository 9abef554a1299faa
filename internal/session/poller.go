package session

import "time"

// poller runs Controller.poll on a ticker until stopped.
type poller struct {
	stopCh chan struct{}
	done   chan struct{}
}

// startPoller must be called with c.mu held; the goroutine only takes c.mu
// from inside poll.
func (c *Controller) startPoller(sess *activeSession) *poller {
	p := &poller{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				c.poll(sess)
			}
		}
	}()
	return p
}

// stop ends the poll loop and waits for it to exit. Safe on nil.
func (p *poller) stop() {
	if p == nil {
		return
	}
	close(p.stopCh)
	<-p.done
}
