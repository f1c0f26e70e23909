package strix

import (
	"context"
	"sort"
	"sync"

	"github.com/casualjim/strix/transport"
)

// Pool hands out transport channels per conversation and remembers which
// conversations share a channel. When a channel closes, the pool fans the
// loss out to exactly the conversations that were riding it.
type Pool struct {
	provider transport.Provider
	onLost   func(conversationID string, err error)

	mu     sync.Mutex
	byConv map[string]transport.Channel
	byChan map[transport.Channel]map[string]struct{}
}

// NewPool builds a pool over provider. onLost, when non-nil, runs once per
// affected conversation after a channel closes.
func NewPool(provider transport.Provider, onLost func(conversationID string, err error)) *Pool {
	return &Pool{
		provider: provider,
		onLost:   onLost,
		byConv:   make(map[string]transport.Channel),
		byChan:   make(map[transport.Channel]map[string]struct{}),
	}
}

// Get returns the conversation's channel, obtaining one from the provider
// on first use. A mapped channel that already closed is evicted and
// replaced. Both directions of the mapping update together, so a lookup
// and its reverse can never disagree.
func (p *Pool) Get(ctx context.Context, conversationID string) (transport.Channel, error) {
	p.mu.Lock()
	if ch, ok := p.byConv[conversationID]; ok {
		select {
		case <-ch.Closed():
			delete(p.byConv, conversationID)
			if set, ok := p.byChan[ch]; ok {
				delete(set, conversationID)
			}
		default:
			p.mu.Unlock()
			return ch, nil
		}
	}
	p.mu.Unlock()

	ch, err := p.provider.Obtain(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.byConv[conversationID]; ok {
		// Lost the obtain race. The provider owns the spare channel.
		return existing, nil
	}
	p.byConv[conversationID] = ch
	set, ok := p.byChan[ch]
	if !ok {
		set = make(map[string]struct{})
		p.byChan[ch] = set
		go p.watch(ch)
	}
	set[conversationID] = struct{}{}
	return ch, nil
}

// Release forgets the conversation's channel binding without closing the
// channel; other conversations sharing it are unaffected.
func (p *Pool) Release(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.byConv[conversationID]
	if !ok {
		return
	}
	delete(p.byConv, conversationID)
	if set, ok := p.byChan[ch]; ok {
		delete(set, conversationID)
	}
}

// watch waits for the channel to close and then unbinds and notifies every
// conversation that was still on it. A clean close reports ErrClosed, so
// onLost always receives a cause.
func (p *Pool) watch(ch transport.Channel) {
	<-ch.Closed()
	err := ch.Err()
	if err == nil {
		err = transport.ErrClosed
	}

	p.mu.Lock()
	convs := p.byChan[ch]
	delete(p.byChan, ch)
	ids := make([]string, 0, len(convs))
	for id := range convs {
		delete(p.byConv, id)
		ids = append(ids, id)
	}
	p.mu.Unlock()

	if p.onLost == nil {
		return
	}
	sort.Strings(ids)
	for _, id := range ids {
		p.onLost(id, err)
	}
}
