// Package protocol multiplexes control signals and PCM payload over a
// byte-oriented link.
//
// Two codecs are supported. The frame codec writes explicit
// [type:1][length:4][payload] frames so boundaries never depend on payload
// contents. The marker codec handles the legacy "START\n"/"STOP\n" text
// markers used by older capture firmware. Both feed the same Receiver, which
// runs Idle -> Receiving -> Idle and hands each session to a SessionSink.
package protocol
