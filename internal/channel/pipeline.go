package channel

import "sync"

// Codec is a named stage in a Channel's pipeline. Installing a codec lets it
// reach into the owning Channel (e.g. to swap the decode/encode function, or
// to start an idle timer); removing it must undo exactly that. Both hooks
// run on the channel's own executor (spec.md §4.1/§9 — pipeline mutations
// must never run concurrently with the channel's own read/write loops).
type Codec interface {
	Name() string
	OnInstall(ch *Channel)
	OnRemove(ch *Channel)
}

// Pipeline is the ordered, mutable list of codecs installed on a Channel.
// Mutation methods assume they are already running on the channel's
// executor; Channel.AddCodec/RemoveCodec are what post them there.
type Pipeline struct {
	mu     sync.Mutex
	order  []string
	codecs map[string]Codec
}

func newPipeline() *Pipeline {
	return &Pipeline{codecs: make(map[string]Codec)}
}

func (p *Pipeline) add(ch *Channel, c Codec) {
	p.mu.Lock()
	if _, exists := p.codecs[c.Name()]; exists {
		p.mu.Unlock()
		return
	}
	p.codecs[c.Name()] = c
	p.order = append(p.order, c.Name())
	p.mu.Unlock()

	c.OnInstall(ch)
}

func (p *Pipeline) remove(ch *Channel, name string) {
	p.mu.Lock()
	c, ok := p.codecs[name]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.codecs, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	c.OnRemove(ch)
}

// Has reports whether a codec with the given name is currently installed.
func (p *Pipeline) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.codecs[name]
	return ok
}
