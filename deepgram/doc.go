// Package deepgram streams audio to Deepgram's live transcription endpoint
// and relays interim and final transcripts.
package deepgram
