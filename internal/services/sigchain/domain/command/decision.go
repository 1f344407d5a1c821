// Package command holds the accept/reject outcome shared by the chain deciders.
package command

import apperrors "github.com/louisbranch/sigchain/internal/platform/errors"

// Mutation is one projection change produced by an accepted operation.
type Mutation interface {
	MutationKind() string
}

// Decision represents the pure outcome of deciding an operation.
type Decision struct {
	Mutations  []Mutation
	Rejections []Rejection
}

// Rejection captures a domain-level reason an operation was declined.
type Rejection struct {
	Code     apperrors.Code
	Message  string
	Metadata map[string]string
}

// Accept returns a decision that applies the provided mutations.
func Accept(mutations ...Mutation) Decision {
	return Decision{Mutations: append([]Mutation(nil), mutations...)}
}

// Reject returns a decision that carries the provided rejections.
func Reject(rejections ...Rejection) Decision {
	return Decision{Rejections: append([]Rejection(nil), rejections...)}
}

// Rejectf returns a single-rejection decision.
func Rejectf(code apperrors.Code, message string) Decision {
	return Reject(Rejection{Code: code, Message: message})
}

// Accepted reports whether the decision carries no rejection.
func (d Decision) Accepted() bool { return len(d.Rejections) == 0 }

// Err converts the first rejection into a domain error, or nil when accepted.
func (d Decision) Err() error {
	if d.Accepted() {
		return nil
	}
	r := d.Rejections[0]
	if len(r.Metadata) > 0 {
		return apperrors.WithMetadata(r.Code, r.Message, r.Metadata)
	}
	return apperrors.New(r.Code, r.Message)
}
