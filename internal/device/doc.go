// Package device provides the peripherals the state machine drives:
// microphone sources that deliver 32-bit I2S-style words, speaker sinks
// that accept interleaved 16-bit stereo, the push-to-talk trigger and the
// activity indicator.
//
// Hardware backends are optional. The PortAudio microphone is compiled in
// with -tags portaudio; without it OpenSource reports a PeripheralInitError
// and the tone generator or a recorded file can stand in.
package device
