// Package errs holds the pipeline error taxonomy.
package errs

import (
	"encoding/json"
	"errors"
)

type Code int

const (
	Unknown Code = iota
	QueueUnavailable
	CompileFailure
	TestTimeout
	SubprocessCrash
	MalformedJob
	ChannelPublishFailure
)

var codeNames = map[Code]string{
	Unknown:               "Unknown",
	QueueUnavailable:      "QueueUnavailable",
	CompileFailure:        "CompileFailure",
	TestTimeout:           "TestTimeout",
	SubprocessCrash:       "SubprocessCrash",
	MalformedJob:          "MalformedJob",
	ChannelPublishFailure: "ChannelPublishFailure",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return codeNames[Unknown]
}

func (c Code) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

type Err struct {
	Code Code   `json:"code"`
	Msg  string `json:"msg"`
	Err  error  `json:"-"`
}

func (e *Err) Error() string {
	if e.Err != nil {
		return e.Code.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Code.String() + ": " + e.Msg
}

func (e *Err) Unwrap() error { return e.Err }

// Is matches any *Err with the same code, so callers can write
// errors.Is(err, &errs.Err{Code: errs.QueueUnavailable}).
func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	return ok && t.Code == e.Code
}

func New(code Code, msg string) *Err {
	return &Err{Code: code, Msg: msg}
}

func Wrap(code Code, msg string, err error) *Err {
	return &Err{Code: code, Msg: msg, Err: err}
}

// IsCode reports whether any error in err's chain carries code.
func IsCode(err error, code Code) bool {
	return errors.Is(err, &Err{Code: code})
}
