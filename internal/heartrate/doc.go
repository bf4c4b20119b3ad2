// Package heartrate turns raw heart-rate values into accepted samples and
// renders them for the downstream receiver.
//
// The main components are:
//
//   - [Decoder]: Filters noise samples and tracks the previous value for trends
//   - [RenderText]: Fills the user text template for the chat box
//   - [RenderChannels]: Encodes BPM digits as three 0.0-0.9 float channels
//
// Everything here is pure or owned by a single goroutine; nothing in this
// package is safe for concurrent mutation.
package heartrate
