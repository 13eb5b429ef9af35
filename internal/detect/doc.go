// Package detect implements the silent-failure detector: a keyed registry of
// in-flight operations and a periodic sweep that expires entries older than
// the detection window into synthesized silent-failure events.
package detect
