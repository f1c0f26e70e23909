package strix

import (
	"fmt"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/casualjim/strix/wire"
)

// openCitation tracks a citation between its open and close markers. The
// offset is the byte length of the accumulated text just before the
// opening chunk's data was appended.
type openCitation struct {
	offset  int
	sources []wire.Source
}

// ContentPart streams one piece of content inside a message: a run of
// text, an image, audio, whatever the start event declared. Chunks append
// to the part's accumulated data and may carry citation markers; the part
// resolves those markers into byte-ranged citations as they close.
type ContentPart struct {
	node[wire.ContentPartEvent]

	msg *Message

	start *wire.ContentPartStart
	end   *wire.ContentPartEnd

	text    []byte
	open    *orderedmap.OrderedMap[string, openCitation]
	cites   []Citation
	defects []CitationDefect

	chunkHandlers     handlers[wire.Chunk]
	endHandlers       handlers[wire.ContentPartEnd]
	completedHandlers handlers[ContentPartCompletion]
}

func newContentPart(m *Message, id string) *ContentPart {
	p := &ContentPart{
		node: newNode[wire.ContentPartEvent](m.sess, m.mu, id),
		msg:  m,
		open: orderedmap.New[string, openCitation](),
	}
	p.node.wrap = func(ev wire.ContentPartEvent) wire.FrameBody {
		return m.wrapMessageEvent(wire.ContentPartEnvelope{ID: id, Event: ev})
	}
	p.node.deliver = p.deliverEvent
	p.node.detach = func() { m.parts.Delete(id) }
	p.node.parentScope = m.InErrorScope
	return p
}

// Start returns the part's start event. It fails with ErrNoStartEvent when
// the part was materialized by a non-start event.
func (p *ContentPart) Start() (wire.ContentPartStart, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start == nil {
		return wire.ContentPartStart{}, ErrNoStartEvent
	}
	return *p.start, nil
}

// Type returns the declared content type, or the zero value when the part
// has no start event.
func (p *ContentPart) Type() wire.ContentType {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start == nil {
		return ""
	}
	return p.start.Type
}

// IsText reports whether the part carries plain text.
func (p *ContentPart) IsText() bool { return p.Type() == wire.ContentText }

// IsMarkdown reports whether the part carries markdown.
func (p *ContentPart) IsMarkdown() bool { return p.Type() == wire.ContentMarkdown }

// IsHTML reports whether the part carries HTML.
func (p *ContentPart) IsHTML() bool { return p.Type() == wire.ContentHTML }

// IsAudio reports whether the part carries audio data.
func (p *ContentPart) IsAudio() bool { return p.Type() == wire.ContentAudio }

// IsImage reports whether the part carries image data.
func (p *ContentPart) IsImage() bool { return p.Type() == wire.ContentImage }

// IsTranscript reports whether the part carries an audio transcript.
func (p *ContentPart) IsTranscript() bool { return p.Type() == wire.ContentTranscript }

// Text returns the data accumulated from bookkept chunks so far.
func (p *ContentPart) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.text)
}

// Citations returns the citations resolved so far, in close order.
func (p *ContentPart) Citations() []Citation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.cites)
}

// CitationDefects returns the citation anomalies observed so far.
func (p *ContentPart) CitationDefects() []CitationDefect {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.defects)
}

// OnChunk registers fn for every chunk delivered to this part.
func (p *ContentPart) OnChunk(fn func(wire.Chunk)) func() {
	return p.chunkHandlers.on(fn)
}

// OnEnd registers fn for the part's end event.
func (p *ContentPart) OnEnd(fn func(wire.ContentPartEnd)) func() {
	return p.endHandlers.on(fn)
}

// OnCompleted registers fn for the part's completion aggregate, built once
// when the end event is delivered.
func (p *ContentPart) OnCompleted(fn func(ContentPartCompletion)) func() {
	return p.completedHandlers.on(fn)
}

// SendChunk appends data to the part and emits the chunk. The optional
// citation marker opens or closes a cited span over the part's text.
func (p *ContentPart) SendChunk(data string, citation *wire.Citation) error {
	chunk := wire.Chunk{Data: data, Citation: citation}

	p.mu.Lock()
	if err := p.ensureLiveLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.consumeLocked(chunk)
	p.mu.Unlock()

	p.sess.emit(p.wrap(chunk))
	return nil
}

// SendText emits a plain chunk with no citation marker.
func (p *ContentPart) SendText(data string) error {
	return p.SendChunk(data, nil)
}

// SendChunkWithCitationStart emits data that begins a cited span. The span
// stays open until a chunk closes the same citation id.
func (p *ContentPart) SendChunkWithCitationStart(data, citationID string) error {
	return p.SendChunk(data, &wire.Citation{ID: citationID, Open: true})
}

// SendChunkWithCitationEnd emits data that closes a previously opened
// span, attaching the sources it resolved to.
func (p *ContentPart) SendChunkWithCitationEnd(data, citationID string, sources ...wire.Source) error {
	return p.SendChunk(data, &wire.Citation{ID: citationID, Close: true, Sources: sources})
}

// SendChunkWithCitation emits data that is cited in its entirety: the span
// opens before the data and closes right after it.
func (p *ContentPart) SendChunkWithCitation(data, citationID string, sources ...wire.Source) error {
	return p.SendChunk(data, &wire.Citation{ID: citationID, Open: true, Close: true, Sources: sources})
}

// SendEnd closes the part and retires it from its message. Interrupted or
// extra detail goes in the end payload.
func (p *ContentPart) SendEnd(end wire.ContentPartEnd) error {
	p.mu.Lock()
	if err := p.ensureLiveLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.ended = true
	p.end = &end
	p.mu.Unlock()

	p.sess.emit(p.wrap(end))
	p.Delete()
	return nil
}

// Delete removes the part from its message. Deleting is idempotent and
// fires the part's deletion listeners exactly once.
func (p *ContentPart) Delete() {
	var fires []func()
	p.mu.Lock()
	p.deleteLocked(&fires)
	p.mu.Unlock()
	for _, fn := range fires {
		fn()
	}
}

func (p *ContentPart) deleteLocked(fires *[]func()) {
	if !p.beginDeleteLocked() {
		return
	}
	p.finishDeleteLocked(fires)
}

// consumeLocked applies one chunk to the part's bookkeeping: append the
// data and resolve citation markers. An open marker records the byte
// offset before this chunk's data; a close marker measures the span
// against the length after it, so a chunk that both opens and closes cites
// exactly its own data.
func (p *ContentPart) consumeLocked(chunk wire.Chunk) {
	cite := chunk.Citation

	var openOffset int
	if cite != nil && cite.Open {
		openOffset = len(p.text)
	}

	p.text = append(p.text, chunk.Data...)

	if cite == nil {
		return
	}
	if cite.Open {
		p.open.Set(cite.ID, openCitation{offset: openOffset, sources: cite.Sources})
	}
	if cite.Close {
		oc, ok := p.open.Get(cite.ID)
		if !ok {
			p.defects = append(p.defects, CitationDefect{Kind: CitationNotStarted, ID: cite.ID})
			return
		}
		p.open.Delete(cite.ID)
		sources := cite.Sources
		if len(sources) == 0 {
			sources = oc.sources
		}
		p.cites = append(p.cites, Citation{
			ID:      cite.ID,
			Offset:  oc.offset,
			Length:  len(p.text) - oc.offset,
			Sources: sources,
		})
	}
}

// completionLocked drains still-open citations into defects and builds the
// part's completion aggregate.
func (p *ContentPart) completionLocked(end wire.ContentPartEnd) ContentPartCompletion {
	for pair := p.open.Oldest(); pair != nil; pair = pair.Next() {
		p.defects = append(p.defects, CitationDefect{Kind: CitationNotEnded, ID: pair.Key})
	}
	p.open = orderedmap.New[string, openCitation]()

	var start wire.ContentPartStart
	if p.start != nil {
		start = *p.start
	}
	return ContentPartCompletion{
		ID:        p.id,
		Start:     start,
		End:       end,
		Text:      string(p.text),
		Citations: slices.Clone(p.cites),
		Defects:   slices.Clone(p.defects),
	}
}

func (p *ContentPart) deliverEvent(ev wire.ContentPartEvent, echoed bool) {
	switch event := ev.(type) {
	case wire.ContentPartStart:
		p.mu.Lock()
		if p.start == nil {
			p.start = &event
		}
		p.mu.Unlock()
	case wire.Chunk:
		p.mu.Lock()
		if !echoed {
			p.consumeLocked(event)
		}
		p.mu.Unlock()
		p.chunkHandlers.emit(event)
	case wire.ContentPartEnd:
		p.mu.Lock()
		if p.endFired {
			p.mu.Unlock()
			return
		}
		p.endFired = true
		p.ended = true
		if p.end == nil {
			p.end = &event
		}
		completion := p.completionLocked(event)
		p.mu.Unlock()

		p.endHandlers.emit(event)
		p.completedHandlers.emit(completion)
		p.msg.partCompleted(completion)
		p.Delete()
	case wire.Meta:
		p.handleMeta(event)
	case wire.ErrorStart:
		p.handleErrorStart(event, echoed)
	case wire.ErrorEnd:
		p.handleErrorEnd(event, echoed)
	default:
		panic(fmt.Sprintf("unknown content part event type: %T", event))
	}
}
