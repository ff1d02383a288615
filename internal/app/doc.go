// Package app is the application layer of the console. Dashboard wires the
// session, the realtime channel, the progress tracker, the match listing and
// the broadcast trigger together and is the only component that knows about
// all of them. HTTP handlers talk to it, never to the components directly.
package app
