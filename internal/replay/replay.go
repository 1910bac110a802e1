// Package replay records and reconstitutes frame streams. A replay
// file is the complete authoritative input history of a session; any
// peer can re-run it through the deterministic kernel and arrive at
// the exact live-session state, which makes replays the primary tool
// for chasing divergence bugs offline.
package replay

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"framesync/internal/frame"
)

// File magics. FSRP bodies are zlib-compressed, FSRJ bodies are plain.
const (
	MagicCompressed = "FSRP"
	MagicPlain      = "FSRJ"
)

// FormatVersion is bumped on any incompatible layout change.
const FormatVersion = 1

// Header describes the recorded session.
type Header struct {
	Version     int            `json:"version"`
	PlayerCount int            `json:"playerCount"`
	PlayerIDs   []string       `json:"playerIds"`
	StartTime   float64        `json:"startTime"` // unix seconds
	Duration    float64        `json:"duration"`  // seconds
	FrameCount  int            `json:"frameCount"`
	Seed        uint32         `json:"seed"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// frameRecord is one frame in the file: id, per-player input bytes as
// integer arrays (JSON-safe), and a session-relative timestamp.
type frameRecord struct {
	F uint32           `json:"f"`
	I map[string][]int `json:"i"`
	T float64          `json:"t"`
}

type fileBody struct {
	Header Header        `json:"header"`
	Frames []frameRecord `json:"frames"`
}

// Recorder accumulates committed frames for one session.
type Recorder struct {
	header Header
	frames []frameRecord
	start  time.Time
}

// NewRecorder starts a recording for the given players and RNG seed.
func NewRecorder(playerIDs []string, seed uint32) *Recorder {
	now := time.Now()
	return &Recorder{
		header: Header{
			Version:     FormatVersion,
			PlayerCount: len(playerIDs),
			PlayerIDs:   append([]string(nil), playerIDs...),
			StartTime:   float64(now.UnixNano()) / float64(time.Second),
			Seed:        seed,
			Metadata:    make(map[string]any),
		},
		start: now,
	}
}

// SetMetadata attaches a free-form key to the header.
func (r *Recorder) SetMetadata(key string, value any) {
	r.header.Metadata[key] = value
}

// RecordFrame appends one committed frame. Frames must arrive in the
// order they committed.
func (r *Recorder) RecordFrame(f *frame.Frame) {
	inputs := make(map[string][]int, len(f.Inputs))
	for pid, data := range f.Inputs {
		ints := make([]int, len(data))
		for i, b := range data {
			ints[i] = int(b)
		}
		inputs[strconv.Itoa(int(pid))] = ints
	}
	r.frames = append(r.frames, frameRecord{
		F: f.ID,
		I: inputs,
		T: time.Since(r.start).Seconds(),
	})
}

// FrameCount returns the number of recorded frames.
func (r *Recorder) FrameCount() int { return len(r.frames) }

// Bytes serialises the recording, compressed or plain.
func (r *Recorder) Bytes(compress bool) ([]byte, error) {
	r.header.FrameCount = len(r.frames)
	r.header.Duration = time.Since(r.start).Seconds()

	body, err := json.Marshal(fileBody{Header: r.header, Frames: r.frames})
	if err != nil {
		return nil, fmt.Errorf("replay: marshal: %w", err)
	}

	var buf bytes.Buffer
	if compress {
		buf.WriteString(MagicCompressed)
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, fmt.Errorf("replay: compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("replay: compress: %w", err)
		}
	} else {
		buf.WriteString(MagicPlain)
		buf.Write(body)
	}
	return buf.Bytes(), nil
}

// WriteFile saves the recording to disk.
func (r *Recorder) WriteFile(path string, compress bool) error {
	data, err := r.Bytes(compress)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("replay: write %s: %w", path, err)
	}
	return nil
}

// Replay is a loaded recording.
type Replay struct {
	Header Header
	frames []frameRecord
}

// Load parses replay bytes, handling both magics.
func Load(data []byte) (*Replay, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("replay: truncated file")
	}

	magic := string(data[:4])
	body := data[4:]

	switch magic {
	case MagicCompressed:
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("replay: open compressed body: %w", err)
		}
		defer zr.Close()
		body, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("replay: decompress: %w", err)
		}
	case MagicPlain:
		// Already raw JSON.
	default:
		return nil, fmt.Errorf("replay: unknown magic %q", magic)
	}

	var fb fileBody
	if err := json.Unmarshal(body, &fb); err != nil {
		return nil, fmt.Errorf("replay: parse body: %w", err)
	}
	if fb.Header.Version != FormatVersion {
		return nil, fmt.Errorf("replay: unsupported version %d", fb.Header.Version)
	}
	return &Replay{Header: fb.Header, frames: fb.Frames}, nil
}

// ReadFile loads a replay from disk.
func ReadFile(path string) (*Replay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: read %s: %w", path, err)
	}
	return Load(data)
}

// Frames reconstitutes the committed frame stream in ascending order,
// bit-identical to what the live session broadcast.
func (rp *Replay) Frames() ([]*frame.Frame, error) {
	out := make([]*frame.Frame, 0, len(rp.frames))
	for _, rec := range rp.frames {
		inputs := make(map[uint16][]byte, len(rec.I))
		for key, ints := range rec.I {
			pid, err := strconv.ParseUint(key, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("replay: frame %d: bad player key %q", rec.F, key)
			}
			data := make([]byte, len(ints))
			for i, v := range ints {
				if v < 0 || v > 255 {
					return nil, fmt.Errorf("replay: frame %d: byte out of range %d", rec.F, v)
				}
				data[i] = byte(v)
			}
			inputs[uint16(pid)] = data
		}
		out = append(out, &frame.Frame{ID: rec.F, Inputs: inputs, Confirmed: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Player steps through a loaded replay one frame at a time, the way a
// live client consumes the committed stream.
type Player struct {
	frames []*frame.Frame
	pos    int
}

// Player creates a stepping cursor over the replay.
func (rp *Replay) Player() (*Player, error) {
	frames, err := rp.Frames()
	if err != nil {
		return nil, err
	}
	return &Player{frames: frames}, nil
}

// Next returns the next frame, nil at the end.
func (p *Player) Next() *frame.Frame {
	if p.pos >= len(p.frames) {
		return nil
	}
	f := p.frames[p.pos]
	p.pos++
	return f
}

// Seek positions the cursor at the first frame with id >= frameID.
// Reports whether such a frame exists.
func (p *Player) Seek(frameID uint32) bool {
	for i, f := range p.frames {
		if f.ID >= frameID {
			p.pos = i
			return true
		}
	}
	p.pos = len(p.frames)
	return false
}

// Rewind resets the cursor to the start.
func (p *Player) Rewind() { p.pos = 0 }

// Progress reports playback position in [0,1].
func (p *Player) Progress() float64 {
	if len(p.frames) == 0 {
		return 1
	}
	return float64(p.pos) / float64(len(p.frames))
}

// Stats summarises a replay for the analyzer CLI.
type Stats struct {
	FrameCount    int
	Duration      float64
	PlayerCount   int
	InputsPerPlay map[string]int // non-empty inputs per player key
	EmptyFrames   int            // frames where every input is empty
}

// Analyze computes summary statistics.
func (rp *Replay) Analyze() Stats {
	st := Stats{
		FrameCount:    len(rp.frames),
		Duration:      rp.Header.Duration,
		PlayerCount:   rp.Header.PlayerCount,
		InputsPerPlay: make(map[string]int),
	}
	for _, rec := range rp.frames {
		allEmpty := true
		for key, ints := range rec.I {
			if len(ints) > 0 {
				st.InputsPerPlay[key]++
				allEmpty = false
			}
		}
		if allEmpty {
			st.EmptyFrames++
		}
	}
	return st
}
