// Package upload sends recorded PCM to the backend as a sequence of
// numbered HTTP chunks and retrieves the synthesized response.
//
// Each chunk is a POST to {base}/audio carrying X-Chunk-Number (1-based),
// X-Last-Chunk and X-User-Id headers. The reply to the last chunk is either
// the response WAV itself or a JSON document naming a file that is then
// fetched from {base}/get_response/{filename}.
package upload
