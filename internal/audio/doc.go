// Package audio holds the PCM primitives shared by capture and playback:
// bit-depth conversion with saturating gain, mono to stereo upmixing,
// little-endian sample packing, level metering and the 44-byte WAV header.
package audio
