// Package backend is a stand-in for the inference service. It accepts the
// chunked upload protocol, reassembles each user's recording in sequence
// order and answers the last chunk with a WAV response, either inline or as
// a file reference served from /get_response/.
//
// The response simply echoes the recording, which is enough to exercise
// the device end to end without a speech model.
package backend
