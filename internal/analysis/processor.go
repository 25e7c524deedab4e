// SPDX-License-Identifier: MIT
package analysis

// AudioProcessor is implemented by components that consume captured PCM blocks.
type AudioProcessor interface {
	// Process analyzes the given audio input buffer. Implementations should be efficient as
	// this is called from the real-time audio callback.
	Process(inputBuffer []int32)
}

// FrameProvider hands out the most recent FrequencyFrame. Implementations return
// a copy the caller may keep.
type FrameProvider interface {
	Frame() FrequencyFrame
}
