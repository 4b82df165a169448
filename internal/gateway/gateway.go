package gateway

import (
	"context"
)

// InitiateStatus is the gateway's answer to a purchase request.
type InitiateStatus string

const (
	InitiateOK       InitiateStatus = "ok"
	InitiateConflict InitiateStatus = "conflict"
	InitiateError    InitiateStatus = "error"
)

// TxStatus is the normalized status of a terminal transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

// PurchaseRequest contains the data needed to start a purchase on a terminal.
type PurchaseRequest struct {
	Reference  string
	Amount     int64 // in cents
	TipAmount  int64 // in cents
	Currency   string
	DeviceCode string
	Metadata   map[string]any
}

// InitiateResult holds the outcome of InitiatePurchase.
type InitiateResult struct {
	Status        InitiateStatus
	TransactionID string
	Message       string
}

// StatusResult holds the outcome of CheckStatus.
type StatusResult struct {
	Status        TxStatus
	TransactionID string
	Message       string
}

// Device is a terminal as reported by the gateway.
type Device struct {
	Code   string
	Name   string
	Active bool
}

// DeviceList is the gateway's device inventory.
type DeviceList struct {
	Configured        bool
	DefaultDeviceCode string
	Devices           []Device
}

// Client is the interface to the remote payment processor's terminal API.
// A returned error always means a transport failure: the request may or may
// not have reached the processor. Processor-level rejections come back as
// results, not errors.
type Client interface {
	// InitiatePurchase pushes a purchase to the terminal.
	InitiatePurchase(ctx context.Context, req PurchaseRequest) (*InitiateResult, error)
	// CheckStatus queries a transaction by id or by reference.
	CheckStatus(ctx context.Context, deviceCode, idOrReference string) (*StatusResult, error)
	// CheckDeviceReadiness reports whether a terminal can take a payment now.
	CheckDeviceReadiness(ctx context.Context, deviceCode string) (bool, error)
	// ListDevices returns the configured terminals.
	ListDevices(ctx context.Context) (*DeviceList, error)
}
