// Package protocol defines the signed message envelope and every payload
// carried on the team main chain and the per-member log chains.
//
// Sum types (Body, Operation, Invitation, Restriction, LogOperation, LogBody
// and the signature results) are sealed interfaces. On the wire each variant
// is externally tagged: {"variant": payload}, with unit variants encoded as
// {"variant": {}}. Binary fields are standard base64 strings.
package protocol
