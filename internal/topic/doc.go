// Package topic persists topics and their append-only message logs.
//
// All reads are scoped by owning user for authorization: a caller asking
// for another user's topic or messages gets ErrTopicNotFound, not a
// permission error, so resource existence is never leaked.
package topic
