package devserver

import (
	"fmt"
	"math"
)

// phrase is one detected span of speech in the incoming PCM stream.
type phrase struct {
	SequenceID int64
	ChunkID    string
	Start      float64
	End        float64
}

const (
	// rmsSpeechThreshold separates speech from silence on raw int16 RMS.
	rmsSpeechThreshold = 500.0
	// silence this long closes the current phrase
	phraseGapSeconds = 0.6
	// ignore blips shorter than this
	minPhraseSeconds = 0.3
)

// phraseCutter segments a PCM16LE stream into phrases by RMS energy. It is
// the dev stand-in for a real voice-activity detector.
type phraseCutter struct {
	sampleRate int
	onPhrase   func(p phrase)
	onVoice    func(active bool)

	elapsed     float64 // seconds of audio consumed
	active      bool
	phraseStart float64
	lastVoice   float64
	seq         int64
}

func newPhraseCutter(sampleRate int, onPhrase func(p phrase), onVoice func(active bool)) *phraseCutter {
	return &phraseCutter{sampleRate: sampleRate, onPhrase: onPhrase, onVoice: onVoice}
}

// Feed consumes one binary frame.
func (c *phraseCutter) Feed(buf []byte) {
	n := len(buf) / 2
	if n == 0 {
		return
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := int16(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8)
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(n))
	frameDur := float64(n) / float64(c.sampleRate)
	c.elapsed += frameDur

	if rms >= rmsSpeechThreshold {
		if !c.active {
			c.active = true
			c.phraseStart = c.elapsed - frameDur
			if c.onVoice != nil {
				c.onVoice(true)
			}
		}
		c.lastVoice = c.elapsed
		return
	}
	if c.active && c.elapsed-c.lastVoice >= phraseGapSeconds {
		c.closePhrase(c.lastVoice)
	}
}

// Flush closes any in-progress phrase; called on the stop envelope.
func (c *phraseCutter) Flush() {
	if c.active {
		end := c.lastVoice
		if end <= c.phraseStart {
			end = c.elapsed
		}
		c.closePhrase(end)
	}
}

func (c *phraseCutter) closePhrase(end float64) {
	c.active = false
	if c.onVoice != nil {
		c.onVoice(false)
	}
	if end-c.phraseStart < minPhraseSeconds {
		return
	}
	c.seq++
	p := phrase{
		SequenceID: c.seq,
		ChunkID:    fmt.Sprintf("chunk-%d", c.seq),
		Start:      c.phraseStart,
		End:        end,
	}
	if c.onPhrase != nil {
		c.onPhrase(p)
	}
}
