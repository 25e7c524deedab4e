// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"beatlight/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const recordBitDepth = 32

var errAlreadyRecording = errors.New("already recording")

// recorder writes what the analyzer was fed: the first input channel after the
// noise gate, as mono 32-bit PCM. Playing the file back through OpenFile feeds
// the analyzer the same blocks again.
type recorder struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	enc        *wav.Encoder
	buf        *audio.IntBuffer
	sampleRate int
	frames     int
}

func newRecorder(path string, sampleRate float64, blockSize int) (*recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	rate := int(sampleRate)
	return &recorder{
		path:       path,
		file:       file,
		enc:        wav.NewEncoder(file, rate, recordBitDepth, 1, 1),
		sampleRate: rate,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
			SourceBitDepth: recordBitDepth,
			Data:           make([]int, blockSize),
		},
	}, nil
}

// write appends one analyzed block. Blocks longer than the preallocated buffer
// are written in pieces.
func (r *recorder) write(block []int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return nil
	}

	for len(block) > 0 {
		n := min(len(block), cap(r.buf.Data))
		r.buf.Data = r.buf.Data[:n]
		for i, sample := range block[:n] {
			r.buf.Data[i] = int(sample)
		}
		if err := r.enc.Write(r.buf); err != nil {
			return err
		}
		r.frames += n
		block = block[n:]
	}
	return nil
}

// Duration reports how much audio has been written.
func (r *recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sampleRate == 0 {
		return 0
	}
	return time.Duration(r.frames) * time.Second / time.Duration(r.sampleRate)
}

// close finalizes the WAV header and closes the file. Later writes are dropped.
func (r *recorder) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return nil
	}
	encErr := r.enc.Close()
	r.enc = nil
	fileErr := r.file.Close()
	if encErr != nil {
		return fmt.Errorf("finalize %s: %w", r.path, encErr)
	}
	return fileErr
}

// StartRecording writes the analyzer input to a mono WAV file at the capture
// sample rate until StopRecording or Close.
func (e *Engine) StartRecording(filename string) error {
	if e.recording.Load() != nil {
		return errAlreadyRecording
	}

	r, err := newRecorder(filename, e.cfg.SampleRate, e.cfg.FramesPerBuffer)
	if err != nil {
		return err
	}
	if !e.recording.CompareAndSwap(nil, r) {
		r.close()
		os.Remove(filename)
		return errAlreadyRecording
	}

	log.Infof("Audio: Recording analyzer input to %s", filename)
	return nil
}

// StopRecording finalizes the file. It is a no-op when nothing is recording.
func (e *Engine) StopRecording() error {
	r := e.recording.Swap(nil)
	if r == nil {
		return nil
	}
	if err := r.close(); err != nil {
		return err
	}
	log.Infof("Audio: Recorded %s of audio to %s", r.Duration().Round(100*time.Millisecond), r.path)
	return nil
}

// Close stops recording and capture.
func (e *Engine) Close() error {
	if err := e.StopRecording(); err != nil {
		return err
	}
	return e.StopInputStream()
}
