package evm

import "errors"

// ErrNotFound is returned when the node reports no such block or object.
var ErrNotFound = errors.New("not found")

// ErrClientClosed is returned by subscription calls after Close.
var ErrClientClosed = errors.New("client closed")
