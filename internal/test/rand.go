package test

import "errors"

// ErrEntropy is returned by FailingReader.
var ErrEntropy = errors.New("test: entropy source failure")

// FailingReader is an io.Reader which always fails, to simulate a broken entropy source.
type FailingReader struct{}

func (FailingReader) Read([]byte) (int, error) { return 0, ErrEntropy }
