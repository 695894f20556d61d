package types

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a unit of work did not succeed.
type FailureKind int

const (
	KindUnknown FailureKind = iota
	// KindValidationRejection: one of the risk checks refused the order. Never retried.
	KindValidationRejection
	// KindGatewayFailure: an exchange call failed or timed out. Feeds the circuit breaker.
	KindGatewayFailure
	// KindStateInconsistency: e.g. cancel for an order that is no longer tracked.
	KindStateInconsistency
	// KindMalformedInput: unparseable or schema-invalid signal.
	KindMalformedInput
)

func (k FailureKind) String() string {
	switch k {
	case KindValidationRejection:
		return "validation_rejection"
	case KindGatewayFailure:
		return "gateway_failure"
	case KindStateInconsistency:
		return "state_inconsistency"
	case KindMalformedInput:
		return "malformed_input"
	default:
		return "unknown"
	}
}

// Failure 携带分类信息的错误。
type Failure struct {
	Kind   FailureKind
	Op     string
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	msg := f.Reason
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	} else if f.Err != nil {
		msg = msg + ": " + f.Err.Error()
	}
	if f.Op == "" {
		return fmt.Sprintf("%s: %s", f.Kind, msg)
	}
	return fmt.Sprintf("%s %s: %s", f.Op, f.Kind, msg)
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

func Rejected(op, reason string) *Failure {
	return &Failure{Kind: KindValidationRejection, Op: op, Reason: reason}
}

func GatewayFailed(op string, err error) *Failure {
	return &Failure{Kind: KindGatewayFailure, Op: op, Err: err}
}

func Inconsistent(op, reason string) *Failure {
	return &Failure{Kind: KindStateInconsistency, Op: op, Reason: reason}
}

func Malformed(op string, err error) *Failure {
	return &Failure{Kind: KindMalformedInput, Op: op, Err: err}
}

// KindOf 返回错误链上第一个 Failure 的分类。
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) && f != nil {
		return f.Kind
	}
	return KindUnknown
}

// FailureRecord 是写入 failed:orders 的单条失败记录。
type FailureRecord struct {
	OrderID   string `json:"OrderId"`
	Reason    string `json:"Reason"`
	Timestamp int64  `json:"Timestamp"`
	Nonce     string `json:"Nonce,omitempty"`
}
