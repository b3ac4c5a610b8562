// Package queue paces dispatch with token-bucket rate limits per queue and
// per queue+tenant pair. The dispatcher takes a token before each claim
// and returns it when the claim does not happen.
package queue
