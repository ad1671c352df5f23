// Package relay receives capture sessions over a link, buffers each one in
// storage and forwards it to the backend, then plays the reply.
//
// Link bytes are drained one window per step through the protocol receiver.
// A begin signal opens recording.pcm and moves the machine to Recording; the
// end signal closes it and moves to Uploading, where the file is uploaded
// chunk by chunk. Link activity while Uploading or PlayingResponse cannot
// open a session and is counted as ignored.
package relay
