// Package playback streams a WAV response into an audio sink.
//
// The Decoder validates the 44-byte header, then pulls the data in small
// windows, upmixes mono to stereo, applies a saturating gain and writes
// each window to the sink, which blocks while the output buffer is full.
// The sink is zero-filled before and after every response so no stale
// samples leak into the next one.
package playback
