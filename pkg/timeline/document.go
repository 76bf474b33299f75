package timeline

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"workbench/pkg/rangeset"
)

const isoLayout = "2006-01-02T15:04:05.000Z"

// Play states in a state document.
const (
	PlayForward = "Forward"
	PlayStop    = "Stop"
)

// Document is the XML state document describing what the timeline shows.
// Intervals are written as "<iso start>/<iso end>".
type Document struct {
	XMLName        xml.Name `xml:"TimeState"`
	FullRange      string   `xml:"fullRange"`
	CurrentRange   string   `xml:"currentRange"`
	Sequences      []string `xml:"sequence,omitempty"`
	Holds          []string `xml:"hold,omitempty"`
	Duration       Duration `xml:"duration"`
	MillisPerFrame int64    `xml:"millisPerFrame"`
	PlayState      string   `xml:"playState"`
}

// FormatInterval renders r as an ISO 8601 interval in UTC.
func FormatInterval(r rangeset.Range) string {
	return time.UnixMilli(r.Start).UTC().Format(isoLayout) + "/" +
		time.UnixMilli(r.End).UTC().Format(isoLayout)
}

// ParseInterval reads an ISO 8601 "<start>/<end>" interval.
func ParseInterval(s string) (rangeset.Range, error) {
	a, b, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return rangeset.Range{}, fmt.Errorf("interval %q: missing '/'", s)
	}
	start, err := time.Parse(time.RFC3339Nano, a)
	if err != nil {
		return rangeset.Range{}, fmt.Errorf("interval %q: %w", s, err)
	}
	end, err := time.Parse(time.RFC3339Nano, b)
	if err != nil {
		return rangeset.Range{}, fmt.Errorf("interval %q: %w", s, err)
	}
	return rangeset.NewRange(start.UnixMilli(), end.UnixMilli()), nil
}

// Document builds the state document for the current controller state.
func (c *Controller) Document() Document {
	c.mu.Lock()
	defer c.mu.Unlock()

	full, _ := c.load.Bounds()
	d := Document{
		FullRange:      FormatInterval(full),
		CurrentRange:   FormatInterval(rangeset.Range{Start: c.current - c.offset, End: c.current}),
		Duration:       c.duration,
		MillisPerFrame: int64(math.Round(1000 / c.fps)),
		PlayState:      PlayStop,
	}
	for _, r := range c.animate.Ranges() {
		d.Sequences = append(d.Sequences, FormatInterval(r))
	}
	for _, r := range c.hold.Ranges() {
		d.Holds = append(d.Holds, FormatInterval(r))
	}
	if c.playing {
		d.PlayState = PlayForward
	}
	return d
}

// Encode writes d as indented XML.
func (d Document) Encode(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode time state: %w", err)
	}
	return enc.Flush()
}

// ParseDocument reads a state document.
func ParseDocument(r io.Reader) (Document, error) {
	var d Document
	if err := xml.NewDecoder(r).Decode(&d); err != nil {
		return Document{}, fmt.Errorf("decode time state: %w", err)
	}
	return d, nil
}

// State converts the document into a State for Restore.
func (d Document) State() (State, error) {
	full, err := ParseInterval(d.FullRange)
	if err != nil {
		return State{}, err
	}
	s := State{
		Start:      full.Start,
		End:        full.End,
		Duration:   d.Duration,
		Playing:    d.PlayState == PlayForward,
		LoadRanges: []rangeset.Range{full},
	}
	if d.CurrentRange != "" {
		cur, err := ParseInterval(d.CurrentRange)
		if err != nil {
			return State{}, err
		}
		offset := cur.Len()
		s.Current = cur.End
		s.Offset = &offset
	}
	for _, v := range d.Sequences {
		r, err := ParseInterval(v)
		if err != nil {
			return State{}, err
		}
		s.AnimateRanges = append(s.AnimateRanges, r)
	}
	for _, v := range d.Holds {
		r, err := ParseInterval(v)
		if err != nil {
			return State{}, err
		}
		s.HoldRanges = append(s.HoldRanges, r)
	}
	return s, nil
}

// ApplyDocument restores the controller from a state document, including its
// frame rate.
func (c *Controller) ApplyDocument(d Document) error {
	s, err := d.State()
	if err != nil {
		return err
	}
	if d.MillisPerFrame > 0 {
		c.SetFPS(1000 / float64(d.MillisPerFrame))
	}
	return c.Restore(s)
}
